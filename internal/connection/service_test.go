package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/teemow/gmailbridge/internal/gmail"
	"github.com/teemow/gmailbridge/internal/instrumentation"
	"github.com/teemow/gmailbridge/internal/store"
)

// fakeAuth is an AuthorizationProvider that records calls.
type fakeAuth struct {
	exchangeErr   error
	lastRedirect  string
	exchangeCalls int
}

func (f *fakeAuth) AuthCodeURL(redirectURI, state string) string {
	f.lastRedirect = redirectURI
	return fmt.Sprintf("https://accounts.example.com/auth?state=%s&redirect_uri=%s", state, redirectURI)
}

func (f *fakeAuth) Exchange(_ context.Context, redirectURI, code string) (store.ClientCredential, error) {
	f.exchangeCalls++
	f.lastRedirect = redirectURI
	if f.exchangeErr != nil {
		return store.ClientCredential{}, f.exchangeErr
	}
	return store.ClientCredential{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

// fakeMail is a MailProvider that records calls.
type fakeMail struct {
	sendErr    error
	profileErr error
	email      string
	sendCalls  int
}

func (f *fakeMail) Send(_ context.Context, _ store.ClientCredential, _ gmail.Message) (gmail.SendResult, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return gmail.SendResult{}, f.sendErr
	}
	return gmail.SendResult{MessageID: "m1", ThreadID: "t1"}, nil
}

func (f *fakeMail) Profile(_ context.Context, _ store.ClientCredential) (string, error) {
	if f.profileErr != nil {
		return "", f.profileErr
	}
	return f.email, nil
}

func newTestService(auth *fakeAuth, mail *fakeMail) (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	svc := NewService(Config{
		Store:       st,
		Auth:        auth,
		Mail:        mail,
		RedirectURI: "http://localhost:8080/oauth-callback",
		Scopes:      []string{"scope-a", "scope-b"},
		Logger:      slog.New(slog.DiscardHandler),
	})
	return svc, st
}

func TestInitiateConnection(t *testing.T) {
	auth := &fakeAuth{}
	svc, _ := newTestService(auth, &fakeMail{})

	url, err := svc.InitiateConnection(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Contains(t, url, "state=client-1")
	assert.Equal(t, "http://localhost:8080/oauth-callback", auth.lastRedirect)
}

func TestInitiateConnectionEmptyClientID(t *testing.T) {
	svc, _ := newTestService(&fakeAuth{}, &fakeMail{})

	_, err := svc.InitiateConnection(context.Background(), "")

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "Client ID is required", validationErr.Error())
}

func TestCompleteConnectionStoresCredential(t *testing.T) {
	svc, st := newTestService(&fakeAuth{}, &fakeMail{})

	res := svc.CompleteConnection(context.Background(), "code-1", "client-1", "")

	assert.Empty(t, res.Error)
	assert.Equal(t, "client-1", res.ClientID)
	assert.Equal(t, "Gmail connected successfully", res.Message)

	cred, err := st.Get(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "access-code-1", cred.AccessToken)
	assert.Equal(t, "refresh-code-1", cred.RefreshToken)
}

func TestCompleteConnectionProviderDenied(t *testing.T) {
	auth := &fakeAuth{}
	svc, _ := newTestService(auth, &fakeMail{})

	res := svc.CompleteConnection(context.Background(), "code-1", "client-1", "access_denied")

	assert.Equal(t, "Authorization was denied", res.Error)
	assert.Zero(t, auth.exchangeCalls, "a denied callback must not attempt the exchange")
}

func TestCompleteConnectionMissingParams(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		state   string
		wantErr string
	}{
		{"missing code", "", "client-1", "Missing authorization code"},
		{"missing state", "code-1", "", "Missing state parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(&fakeAuth{}, &fakeMail{})
			res := svc.CompleteConnection(context.Background(), tt.code, tt.state, "")
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
}

func TestCompleteConnectionExchangeFailure(t *testing.T) {
	auth := &fakeAuth{exchangeErr: errors.New("invalid_grant")}
	svc, st := newTestService(auth, &fakeMail{})

	res := svc.CompleteConnection(context.Background(), "bad-code", "client-1", "")

	assert.Equal(t, "invalid_grant", res.Error)
	_, err := st.Get(context.Background(), "client-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompleteConnectionReplayUpserts(t *testing.T) {
	svc, st := newTestService(&fakeAuth{}, &fakeMail{})
	ctx := context.Background()

	first := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, first.Error)
	second := svc.CompleteConnection(ctx, "code-2", "client-1", "")
	require.Empty(t, second.Error)

	// Replaying the callback only upserts; the latest tokens win.
	cred, err := st.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "access-code-2", cred.AccessToken)
}

func TestStatusLifecycle(t *testing.T) {
	mail := &fakeMail{email: "user@example.com"}
	svc, _ := newTestService(&fakeAuth{}, mail)
	ctx := context.Background()

	// Disconnected before any callback
	status := svc.Status(ctx, "client-1")
	assert.False(t, status.Connected)
	assert.Equal(t, "No Gmail client available", status.Error)

	// Connected after a successful callback
	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)

	status = svc.Status(ctx, "client-1")
	assert.True(t, status.Connected)
	assert.Equal(t, "user@example.com", status.Email)
	assert.Equal(t, []string{"scope-a", "scope-b"}, status.Scopes)

	// Disconnected again after an explicit disconnect
	assert.True(t, svc.Disconnect(ctx, "client-1"))

	status = svc.Status(ctx, "client-1")
	assert.False(t, status.Connected)
}

func TestStatusSurfacesProviderError(t *testing.T) {
	mail := &fakeMail{profileErr: errors.New("Invalid Credentials")}
	svc, _ := newTestService(&fakeAuth{}, mail)
	ctx := context.Background()

	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)

	status := svc.Status(ctx, "client-1")
	assert.False(t, status.Connected)
	assert.Equal(t, "Invalid Credentials", status.Error)
}

func TestDisconnectUnknownClient(t *testing.T) {
	svc, _ := newTestService(&fakeAuth{}, &fakeMail{})

	assert.False(t, svc.Disconnect(context.Background(), "unknown"))
}

func TestSendMessageWithoutCredential(t *testing.T) {
	mail := &fakeMail{}
	svc, _ := newTestService(&fakeAuth{}, mail)

	_, err := svc.SendMessage(context.Background(), "client-1", gmail.Message{
		To: "u@example.com", Subject: "Hi", Body: "<b>hi</b>",
	})

	var dispErr *gmail.DispatchError
	require.ErrorAs(t, err, &dispErr)
	assert.Equal(t, gmail.KindNoCredential, dispErr.Kind)
	assert.Equal(t, "No Gmail client available. Please connect Gmail first.", dispErr.Message)
	assert.Zero(t, mail.sendCalls, "send must not reach the provider without a credential")
}

func TestSendMessageAfterDisconnect(t *testing.T) {
	mail := &fakeMail{}
	svc, _ := newTestService(&fakeAuth{}, mail)
	ctx := context.Background()

	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)
	require.True(t, svc.Disconnect(ctx, "client-1"))

	_, err := svc.SendMessage(ctx, "client-1", gmail.Message{To: "u@example.com", Subject: "Hi", Body: "hi"})

	var dispErr *gmail.DispatchError
	require.ErrorAs(t, err, &dispErr)
	assert.Equal(t, gmail.KindNoCredential, dispErr.Kind)
	assert.Zero(t, mail.sendCalls)
}

func TestSendMessageSuccess(t *testing.T) {
	mail := &fakeMail{}
	svc, _ := newTestService(&fakeAuth{}, mail)
	ctx := context.Background()

	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)

	sent, err := svc.SendMessage(ctx, "client-1", gmail.Message{To: "u@example.com", Subject: "Hi", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "m1", sent.MessageID)
	assert.Equal(t, "t1", sent.ThreadID)
	assert.Equal(t, 1, mail.sendCalls)
}

// newMeteredService builds a service wired to a manual metric reader so
// tests can assert recorded counter values.
func newMeteredService(t *testing.T, auth *fakeAuth, mail *fakeMail) (*Service, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	metrics, err := instrumentation.NewMetrics(meter)
	require.NoError(t, err)

	svc := NewService(Config{
		Store:       store.NewMemoryStore(),
		Auth:        auth,
		Mail:        mail,
		RedirectURI: "http://localhost:8080/oauth-callback",
		Logger:      slog.New(slog.DiscardHandler),
		Metrics:     metrics,
	})
	return svc, reader
}

// counterValue sums the data points of a counter matching the result label.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, result string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s must be an int64 counter", name)
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("result")); ok && v.AsString() == result {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestCompleteConnectionRecordsExchangeOutcome(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		state      string
		provErr    string
		authErr    error
		wantResult string
	}{
		{"success", "code-1", "client-1", "", nil, instrumentation.StatusSuccess},
		{"provider denied", "code-1", "client-1", "access_denied", nil, instrumentation.StatusError},
		{"missing code", "", "client-1", "", nil, instrumentation.StatusError},
		{"missing state", "code-1", "", "", nil, instrumentation.StatusError},
		{"exchange failure", "bad-code", "client-1", "", errors.New("invalid_grant"), instrumentation.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, reader := newMeteredService(t, &fakeAuth{exchangeErr: tt.authErr}, &fakeMail{})

			svc.CompleteConnection(context.Background(), tt.code, tt.state, tt.provErr)

			// Every callback accounts for exactly one exchange outcome.
			assert.Equal(t, int64(1), counterValue(t, reader, "oauth_exchange_total", tt.wantResult))
		})
	}
}

// withTestTracer installs an in-memory span exporter as the global tracer
// provider for the duration of the test.
func withTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return exporter
}

func spanNames(spans tracetest.SpanStubs) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name)
	}
	return names
}

func TestOperationsEmitSpans(t *testing.T) {
	exporter := withTestTracer(t)
	svc, _ := newTestService(&fakeAuth{}, &fakeMail{email: "user@example.com"})
	ctx := context.Background()

	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)
	svc.Status(ctx, "client-1")
	_, _ = svc.SendMessage(ctx, "client-1", gmail.Message{To: "u@example.com", Subject: "Hi", Body: "hi"})
	svc.Disconnect(ctx, "client-1")
	_, _ = svc.InitiateConnection(ctx, "client-1")

	names := spanNames(exporter.GetSpans())
	assert.Contains(t, names, "connection.complete")
	assert.Contains(t, names, "connection.status")
	assert.Contains(t, names, "connection.send")
	assert.Contains(t, names, "connection.disconnect")
	assert.Contains(t, names, "connection.initiate")
}

func TestSendMessageSpanRecordsMissingCredential(t *testing.T) {
	exporter := withTestTracer(t)
	svc, _ := newTestService(&fakeAuth{}, &fakeMail{})

	_, err := svc.SendMessage(context.Background(), "client-1", gmail.Message{
		To: "u@example.com", Subject: "Hi", Body: "hi",
	})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "connection.send", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes,
		attribute.String(instrumentation.SpanAttrClientID, "client-1"))
}

func TestSendMessageProviderFailure(t *testing.T) {
	mail := &fakeMail{sendErr: errors.New("quota exceeded")}
	svc, _ := newTestService(&fakeAuth{}, mail)
	ctx := context.Background()

	res := svc.CompleteConnection(ctx, "code-1", "client-1", "")
	require.Empty(t, res.Error)

	_, err := svc.SendMessage(ctx, "client-1", gmail.Message{To: "u@example.com", Subject: "Hi", Body: "hi"})
	assert.EqualError(t, err, "quota exceeded")
}
