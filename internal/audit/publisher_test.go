package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/logging"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newPublishingLog(t *testing.T, url string, logger *logging.TestLogger) *Log {
	t.Helper()
	cfg := config.AuditConfig{
		Path:  t.TempDir(),
		Retry: testRetry(),
		NATS: config.NATSConfig{
			Enabled: true,
			URL:     url,
		},
	}

	if logger == nil {
		logger = logging.NewTestLogger()
	}
	log, err := NewLog(cfg, logger.Underlying())
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestPublisher_MirrorsAppends(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("decisions.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	log := newPublishingLog(t, server.ClientURL(), nil)
	seq, err := log.Append(context.Background(), scoredEntry("published"))
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "decisions.candidate_scored", msg.Subject)

	var published Entry
	require.NoError(t, json.Unmarshal(msg.Data, &published))
	assert.Equal(t, seq, published.Sequence)
	assert.Equal(t, ActionCandidateScored, published.Action)
	assert.NotEmpty(t, published.Checksum)
}

func TestPublisher_SubjectPerAction(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("decisions.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	log := newPublishingLog(t, server.ClientURL(), nil)
	ctx := context.Background()

	bias := Entry{
		Action:   ActionBiasDetected,
		Actor:    Actor{ID: "matchd", Type: ActorSystem},
		ReportID: "batch-9",
	}
	_, err = log.Append(ctx, bias)
	require.NoError(t, err)

	override := Entry{
		Action: ActionManualOverride,
		Actor:  Actor{ID: "reviewer-7", Type: ActorUser},
		Detail: "requalified after updated references",
	}
	_, err = log.Append(ctx, override)
	require.NoError(t, err)

	first, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "decisions.bias_detected", first.Subject)

	second, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "decisions.manual_override", second.Subject)
}

func TestPublisher_DisabledByDefault(t *testing.T) {
	log := newTestLog(t, t.TempDir())
	assert.Nil(t, log.publisher)
}

func TestPublisher_FailureDoesNotFailAppend(t *testing.T) {
	server := startTestNATSServer(t)

	testLogger := logging.NewTestLogger()
	log := newPublishingLog(t, server.ClientURL(), testLogger)

	// Kill the connection underneath the publisher; the append must
	// still land in the file log.
	log.publisher.conn.Close()

	seq, err := log.Append(context.Background(), scoredEntry("still persisted"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	entries, err := log.Entries(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	testLogger.AssertLogged(t, zapcore.WarnLevel, "audit publish failed")
}
