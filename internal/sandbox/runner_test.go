package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

func newTestWorkbookAndGraph() (*model.Workbook, *graph.Graph) {
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	return wb, graph.New(config.DirtyMarkLimit)
}

func TestRunRejectsOversizedScript(t *testing.T) {
	wb, g := newTestWorkbookAndGraph()
	req := RunRequest{Code: strings.Repeat("x", config.MaxScriptCodeBytes+1)}

	_, err := Run(context.Background(), wb, g, req, Config{})
	require.True(t, mcperr.Is(err, mcperr.PayloadTooLarge))
}

func TestRunRejectsEscalatedPermissionsOutsideDebugEscapeHatch(t *testing.T) {
	withBuildMode(t, "release", func() {
		wb, g := newTestWorkbookAndGraph()
		req := RunRequest{
			Code:        "pass",
			Permissions: Permissions{Filesystem: FilesystemReadWrite},
		}
		_, err := Run(context.Background(), wb, g, req, Config{})
		require.True(t, mcperr.Is(err, mcperr.PermissionDenied))
	})
}

func TestRunFailsFastWhenNoInterpreterIsReachable(t *testing.T) {
	wb, g := newTestWorkbookAndGraph()
	req := RunRequest{Code: "pass"}
	cfg := Config{PythonExecutable: "xlcore-definitely-not-a-real-interpreter"}

	_, err := Run(context.Background(), wb, g, req, cfg)
	require.Error(t, err)
}

func TestConfigPythonCandidatesPrecedence(t *testing.T) {
	cfg := Config{PythonExecutable: "/opt/pinned/python"}
	require.Equal(t, []string{"/opt/pinned/python"}, cfg.pythonCandidates())

	t.Setenv("XLCORE_PYTHON_EXECUTABLE", "/usr/bin/python3.12")
	cfg = Config{}
	require.Equal(t, []string{"/usr/bin/python3.12"}, cfg.pythonCandidates())

	t.Setenv("XLCORE_PYTHON_EXECUTABLE", "")
	cfg = Config{}
	require.Equal(t, []string{"python3", "python"}, cfg.pythonCandidates())
}

func TestConfigRunnerModuleDefault(t *testing.T) {
	require.Equal(t, defaultRunnerModule, Config{}.runnerModule())
	require.Equal(t, "custom.module", Config{RunnerModule: "custom.module"}.runnerModule())
}

func TestWriteFrameProducesOneJSONLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, executeFrame{Type: frameExecute, Code: "pass"}))
	require.NoError(t, writeFrame(&buf, executeFrame{Type: frameExecute, Code: "pass2"}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"code":"pass"`)
	require.Contains(t, lines[1], `"code":"pass2"`)
}

func TestRunFrameLoopDispatchesRPCAndStopsAtResult(t *testing.T) {
	h, wb, _ := newTestHost(t)
	_ = wb

	var stdin bytes.Buffer
	stdout := strings.NewReader(
		`{"type":"rpc","id":1,"method":"get_active_sheet_id","params":{}}` + "\n" +
			`{"type":"result","success":true}` + "\n",
	)

	frame, err := runFrameLoop(&stdin, stdout, h)
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.True(t, frame.Success)

	written := stdin.String()
	require.Contains(t, written, `"type":"rpc_response"`)
	require.Contains(t, written, `"id":1`)
}

func TestRunFrameLoopRejectsMalformedJSON(t *testing.T) {
	h, _, _ := newTestHost(t)
	var stdin bytes.Buffer
	stdout := strings.NewReader("{not valid json\n")

	_, err := runFrameLoop(&stdin, stdout, h)
	require.Error(t, err)
}

func TestRunFrameLoopRejectsUnrecognizedFrameType(t *testing.T) {
	h, _, _ := newTestHost(t)
	var stdin bytes.Buffer
	stdout := strings.NewReader(`{"type":"bogus"}` + "\n")

	_, err := runFrameLoop(&stdin, stdout, h)
	require.Error(t, err)
}

func TestRunFrameLoopReturnsNilResultOnCleanEOF(t *testing.T) {
	h, _, _ := newTestHost(t)
	var stdin bytes.Buffer
	stdout := strings.NewReader("")

	frame, err := runFrameLoop(&stdin, stdout, h)
	require.NoError(t, err)
	require.Nil(t, frame)
}

func TestRunFrameLoopRPCErrorIsReportedNotFatal(t *testing.T) {
	h, _, _ := newTestHost(t)
	var stdin bytes.Buffer
	stdout := strings.NewReader(
		`{"type":"rpc","id":7,"method":"not_a_real_method","params":{}}` + "\n" +
			`{"type":"result","success":false,"error":"boom"}` + "\n",
	)

	frame, err := runFrameLoop(&stdin, stdout, h)
	require.NoError(t, err)
	require.NotNil(t, frame)
	require.False(t, frame.Success)
	require.Equal(t, "boom", *frame.Error)

	written := stdin.String()
	require.Contains(t, written, `"id":7`)
	require.Contains(t, written, `"error":`)
}
