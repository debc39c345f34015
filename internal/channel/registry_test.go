package channel

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/mcpgate/internal/domain"
	"github.com/soyeahso/mcpgate/internal/logging"
)

type stubAdapter struct {
	id string
}

func (s *stubAdapter) Type() string      { return "stub" }
func (s *stubAdapter) ChannelID() string { return s.id }
func (s *stubAdapter) IsEnabled() bool   { return true }
func (s *stubAdapter) ReceiveMessage(context.Context, map[string]any) ([]*domain.Message, error) {
	return nil, nil
}
func (s *stubAdapter) NormalizeMessage(map[string]any) (*domain.Message, error) { return nil, nil }
func (s *stubAdapter) FormatResponse(*domain.Message) (map[string]any, error)   { return nil, nil }
func (s *stubAdapter) SendMessage(context.Context, *domain.Message) (*Receipt, error) {
	return nil, nil
}
func (s *stubAdapter) Descriptor() *domain.Channel { return &domain.Channel{ChannelID: s.id} }

func stubConstructor(cfg Config, _ *logging.Logger) (Adapter, error) {
	return &stubAdapter{id: cfg.ChannelID}, nil
}

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("stub", stubConstructor, nil))

	a, err := r.Create("stub", Config{ChannelID: "c1"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "c1", a.ChannelID())
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Create("telegram", Config{}, testLogger())
	require.Error(t, err)

	var notFound *domain.ChannelNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "telegram", notFound.ChannelType)
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register("stub", func(Config, *logging.Logger) (Adapter, error) {
		return &stubAdapter{id: "old"}, nil
	}, nil))
	require.NoError(t, r.Register("stub", func(Config, *logging.Logger) (Adapter, error) {
		return &stubAdapter{id: "new"}, nil
	}, nil))

	a, err := r.Create("stub", Config{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "new", a.ChannelID())
}

func TestRegistry_RejectsInvalidRegistration(t *testing.T) {
	r := NewRegistry(testLogger())
	assert.Error(t, r.Register("", stubConstructor, nil))
	assert.Error(t, r.Register("stub", nil, nil))
}

func TestRegistry_TypesAndSchema(t *testing.T) {
	r := NewRegistry(testLogger())
	schema := []ConfigField{{Name: "token", Type: "string", Required: true}}
	require.NoError(t, r.Register("b-type", stubConstructor, schema))
	require.NoError(t, r.Register("a-type", stubConstructor, nil))

	assert.Equal(t, []string{"a-type", "b-type"}, r.Types())

	got, err := r.ConfigSchema("b-type")
	require.NoError(t, err)
	assert.Equal(t, schema, got)

	_, err = r.ConfigSchema("missing")
	assert.Error(t, err)
}

func TestRegistry_ConstructorErrorPropagates(t *testing.T) {
	r := NewRegistry(testLogger())
	wantErr := &domain.ChannelConfigError{ChannelType: "stub", Cause: domain.NewValidationError("boom")}
	require.NoError(t, r.Register("stub", func(Config, *logging.Logger) (Adapter, error) {
		return nil, wantErr
	}, nil))

	_, err := r.Create("stub", Config{}, testLogger())
	require.Error(t, err)
	var cfgErr *domain.ChannelConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
