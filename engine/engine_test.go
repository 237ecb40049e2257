package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/fluxhealth/channelengine/channel"
	"github.com/fluxhealth/channelengine/connector/source"
	"github.com/fluxhealth/channelengine/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopStore struct{}

func (noopStore) InsertMessage(m *message.Message) error { m.ID = 1; return nil }
func (noopStore) UpdateMessageProcessed(int64, bool) error { return nil }
func (noopStore) UpsertConnectorMessage(*message.ConnectorMessage) error { return nil }
func (noopStore) PutContent(*message.Content) error { return nil }
func (noopStore) IncrementStatistic(int, string, message.Status, int64) error { return nil }

type noopSource struct{}

func (noopSource) Start(ctx context.Context, onMessage source.OnMessage) error { return nil }
func (noopSource) Stop(ctx context.Context) error                              { return nil }
func (noopSource) Name() string                                                { return "noop" }

func fakeBuilder(known map[string]bool) Builder {
	return func(ctx context.Context, channelID string) (*channel.Channel, error) {
		if !known[channelID] {
			return nil, fmt.Errorf("unknown channel %s", channelID)
		}
		return channel.New(channel.Config{
			ID:     channelID,
			Store:  noopStore{},
			Source: noopSource{},
		}), nil
	}
}

func TestDeployRegistersChannel(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"chan-1": true}))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", false))

	c, ok := e.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, channel.StateStopped, c.State())
}

func TestDeployWithStartOnDeploy(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"chan-1": true}))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", true))

	c, ok := e.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, channel.StateStarted, c.State())
}

func TestDeployUnknownChannelErrors(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{}))
	err := e.Deploy(context.Background(), "missing", false)
	assert.Error(t, err)
	_, ok := e.Get("missing")
	assert.False(t, ok)
}

func TestRedeployUndeploysFirst(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"chan-1": true}))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", true))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", false))

	c, ok := e.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, channel.StateStopped, c.State())
}

func TestUndeployUnknownChannelErrors(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{}))
	err := e.Undeploy(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListReturnsDeployedIDs(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"a": true, "b": true}))
	require.NoError(t, e.Deploy(context.Background(), "a", false))
	require.NoError(t, e.Deploy(context.Background(), "b", false))

	ids := e.List()
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestDispatchRawMessageErrorsOnUndeployedTarget(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{}))
	_, err := e.DispatchRawMessage(context.Background(), "ghost", []byte("x"), nil)
	assert.Error(t, err)
}

func TestDispatchRawMessageErrorsOnStoppedTarget(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"chan-1": true}))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", false))

	_, err := e.DispatchRawMessage(context.Background(), "chan-1", []byte("x"), nil)
	assert.Error(t, err)
}

func TestDispatchRawMessageSucceedsOnStartedTarget(t *testing.T) {
	e := New(fakeBuilder(map[string]bool{"chan-1": true}))
	require.NoError(t, e.Deploy(context.Background(), "chan-1", true))

	result, err := e.DispatchRawMessage(context.Background(), "chan-1", []byte("x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "", result.SelectedResponse)
}
