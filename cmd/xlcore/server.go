package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/vinodismyname/xlcore/internal/registry"
	"github.com/vinodismyname/xlcore/internal/runtime"
	"github.com/vinodismyname/xlcore/internal/security"
)

// server drives the listen-stdio loop: one decoded request per input
// line, dispatched through runtime.Middleware, one encoded response per
// output line (spec.md §6).
type server struct {
	logger  zerolog.Logger
	secMgr  *security.Manager
	mgr     *registry.Manager
	mw      *runtime.Middleware
	out     *bufio.Writer
	scanner *bufio.Scanner
}

func (s *server) serve(ctx context.Context) {
	defer s.out.Flush()

	for s.scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(errorResponse(errMalformedRequest(err)))
			continue
		}

		resultCtx := s.logger.WithContext(ctx)
		result, err := s.mw.Wrap(resultCtx, func(ctx context.Context) (any, error) {
			return s.dispatch(ctx, req)
		})

		evt := s.logger.Info()
		if err != nil {
			evt = s.logger.Error().Err(err)
		}
		evt.Str("op", req.Op).Str("handle", req.Handle).Msg("request handled")

		if err != nil {
			s.write(errorResponse(err))
			continue
		}
		s.write(response{OK: true, Result: result})
	}

	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Error().Err(err).Msg("listen-stdio: read error")
	}
}

func (s *server) write(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("listen-stdio: failed to encode response")
		return
	}
	s.out.Write(data)
	s.out.WriteByte('\n')
	s.out.Flush()
}
