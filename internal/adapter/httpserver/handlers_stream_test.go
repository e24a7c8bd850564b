package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	wsstream "github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/adapter/websocket"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/domain"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/platform/config"
	"github.com/showusyourtalent/show-us-your-talent-frontend-sub001/internal/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHTTP(t *testing.T, env *testEnv) string {
	t.Helper()
	ts := httptest.NewServer(env.srv.echo)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// readUntil reads views until one satisfies ok.
func readUntil(t *testing.T, conn *ws.Conn, ok func(voting.View) bool) voting.View {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg wsstream.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if ok(msg.Data) {
			return msg.Data
		}
	}
}

func TestVotingStream_PushesViews(t *testing.T) {
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false))
	url := startHTTP(t, env)

	conn, resp, err := ws.DefaultDialer.Dial(url+"/ws/voting?token="+testToken, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	view := readUntil(t, conn, func(v voting.View) bool { return v.Status == voting.StatusReady })
	assert.Equal(t, int64(15), view.TotalVotes)

	// A vote through the API reaches the stream.
	rec := env.do(http.MethodPost, "/api/voting/votes", `{"candidateId":"b","categoryId":"singing"}`, testToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	view = readUntil(t, conn, func(v voting.View) bool {
		return v.Categories[0].Candidates[1].HasCurrentUserVoted
	})
	assert.Equal(t, int64(6), view.Categories[0].Candidates[1].VoteCount)
}

func TestVotingStream_RequiresToken(t *testing.T) {
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false))
	url := startHTTP(t, env)

	_, resp, err := ws.DefaultDialer.Dial(url+"/ws/voting", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestVotingStream_ConnectionLimit(t *testing.T) {
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false))
	url := startHTTP(t, env) + "/ws/voting?token=" + testToken

	conns := make([]*ws.Conn, 0, 10)
	for rangeIdx := 0; rangeIdx < 10; rangeIdx++ {
		conn, resp, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		resp.Body.Close()
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	_, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestVotingStream_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false), func(cfg *config.Config) {
		cfg.FrontendURL = "https://vote.example"
	})
	url := startHTTP(t, env)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := ws.DefaultDialer.Dial(url+"/ws/voting?token="+testToken, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestVotingStream_ClosedOnShutdown(t *testing.T) {
	env := newTestEnv(t, snapshotIn(domain.PhaseOpen, false))
	url := startHTTP(t, env)

	conn, resp, err := ws.DefaultDialer.Dial(url+"/ws/voting?token="+testToken, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	readUntil(t, conn, func(voting.View) bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, ws.IsCloseError(err, ws.CloseGoingAway), "got %v", err)
			return
		}
	}
}
