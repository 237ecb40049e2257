package trace

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fluxhealth/channelengine/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceMapBlob struct {
	ParentChannelID string `json:"parentChannelId"`
	ParentMessageID int64  `json:"parentMessageId"`
}

func jsonDecoder(raw []byte) (string, int64, bool) {
	var blob sourceMapBlob
	if err := json.Unmarshal(raw, &blob); err != nil || blob.ParentChannelID == "" {
		return "", 0, false
	}
	return blob.ParentChannelID, blob.ParentMessageID, true
}

type fakeChannelStore struct {
	messages   map[int64]*message.Message
	sourceMaps map[int64][]byte
	entries    []message.SourceMapEntry
	listErr    error
}

func newFakeChannelStore() *fakeChannelStore {
	return &fakeChannelStore{messages: map[int64]*message.Message{}, sourceMaps: map[int64][]byte{}}
}

func (f *fakeChannelStore) GetMessage(messageID int64) (*message.Message, error) {
	m, ok := f.messages[messageID]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func (f *fakeChannelStore) GetSourceMapContent(messageID int64) ([]byte, error) {
	return f.sourceMaps[messageID], nil
}

func (f *fakeChannelStore) ListSourceMapEntries() ([]message.SourceMapEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entries, nil
}

type fakeRegistry struct {
	stores     map[string]ChannelStore
	downstream map[string][]string
}

func (r *fakeRegistry) Store(channelID string) (ChannelStore, bool) {
	s, ok := r.stores[channelID]
	return s, ok
}

func (r *fakeRegistry) Downstream(channelID string) []string {
	return r.downstream[channelID]
}

func TestBackwardRootHasNoSourceMap(t *testing.T) {
	store := newFakeChannelStore()
	store.messages[1] = &message.Message{ID: 1, ReceivedDate: time.Now()}
	reg := &fakeRegistry{stores: map[string]ChannelStore{"chan-a": store}}

	chain, err := Backward(reg, jsonDecoder, "chan-a", 1, 10)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "chan-a", chain[0].ChannelID)
	assert.Equal(t, int64(1), chain[0].MessageID)
	assert.Equal(t, 0, chain[0].Depth)
}

func TestBackwardWalksThroughVMHops(t *testing.T) {
	base := time.Now()
	rootStore := newFakeChannelStore()
	rootStore.messages[10] = &message.Message{ID: 10, ReceivedDate: base}

	childStore := newFakeChannelStore()
	childStore.messages[20] = &message.Message{ID: 20, ReceivedDate: base.Add(time.Second)}
	blob, _ := json.Marshal(sourceMapBlob{ParentChannelID: "chan-root", ParentMessageID: 10})
	childStore.sourceMaps[20] = blob

	reg := &fakeRegistry{stores: map[string]ChannelStore{
		"chan-root":  rootStore,
		"chan-child": childStore,
	}}

	chain, err := Backward(reg, jsonDecoder, "chan-child", 20, 10)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "chan-root", chain[0].ChannelID)
	assert.Equal(t, "chan-child", chain[1].ChannelID)
	assert.Equal(t, 1, chain[1].Depth)
	assert.Equal(t, time.Second, chain[1].Latency)
}

func TestBackwardMalformedSourceMapTreatsNodeAsRoot(t *testing.T) {
	store := newFakeChannelStore()
	store.messages[5] = &message.Message{ID: 5, ReceivedDate: time.Now()}
	store.sourceMaps[5] = []byte("not json")
	reg := &fakeRegistry{stores: map[string]ChannelStore{"chan-a": store}}

	chain, err := Backward(reg, jsonDecoder, "chan-a", 5, 10)
	require.NoError(t, err)
	assert.Len(t, chain, 1)
}

func TestBackwardBreaksCycles(t *testing.T) {
	store := newFakeChannelStore()
	store.messages[1] = &message.Message{ID: 1, ReceivedDate: time.Now()}
	store.messages[2] = &message.Message{ID: 2, ReceivedDate: time.Now()}
	blob1, _ := json.Marshal(sourceMapBlob{ParentChannelID: "chan-a", ParentMessageID: 2})
	blob2, _ := json.Marshal(sourceMapBlob{ParentChannelID: "chan-a", ParentMessageID: 1})
	store.sourceMaps[1] = blob1
	store.sourceMaps[2] = blob2
	reg := &fakeRegistry{stores: map[string]ChannelStore{"chan-a": store}}

	chain, err := Backward(reg, jsonDecoder, "chan-a", 1, 10)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chain), 3)
}

func TestForwardFindsDownstreamChildren(t *testing.T) {
	base := time.Now()
	rootStore := newFakeChannelStore()
	rootStore.messages[1] = &message.Message{ID: 1, ReceivedDate: base}

	childStore := newFakeChannelStore()
	childStore.messages[2] = &message.Message{ID: 2, ReceivedDate: base.Add(time.Second)}
	childStore.entries = []message.SourceMapEntry{{MessageID: 2, ParentChannelID: "chan-root", ParentMessageID: 1}}

	reg := &fakeRegistry{
		stores:     map[string]ChannelStore{"chan-root": rootStore, "chan-child": childStore},
		downstream: map[string][]string{"chan-root": {"chan-child"}},
	}

	root := Forward(reg, "chan-root", 1, 10, 10)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "chan-child", root.Children[0].ChannelID)
	assert.Equal(t, int64(2), root.Children[0].MessageID)
	assert.Equal(t, time.Second, root.Children[0].Latency)
}

func TestForwardReportsErrorNodeOnDownstreamFailure(t *testing.T) {
	rootStore := newFakeChannelStore()
	rootStore.messages[1] = &message.Message{ID: 1, ReceivedDate: time.Now()}

	reg := &fakeRegistry{
		stores:     map[string]ChannelStore{"chan-root": rootStore},
		downstream: map[string][]string{"chan-root": {"chan-missing"}},
	}

	root := Forward(reg, "chan-root", 1, 10, 10)
	require.Len(t, root.Children, 1)
	assert.NotEmpty(t, root.Children[0].Error)
}

func TestForwardCapsFanoutPerNode(t *testing.T) {
	rootStore := newFakeChannelStore()
	rootStore.messages[1] = &message.Message{ID: 1, ReceivedDate: time.Now()}

	childStore := newFakeChannelStore()
	for i := int64(1); i <= 5; i++ {
		childStore.messages[i] = &message.Message{ID: i, ReceivedDate: time.Now()}
		childStore.entries = append(childStore.entries, message.SourceMapEntry{MessageID: i, ParentChannelID: "chan-root", ParentMessageID: 1})
	}

	reg := &fakeRegistry{
		stores:     map[string]ChannelStore{"chan-root": rootStore, "chan-child": childStore},
		downstream: map[string][]string{"chan-root": {"chan-child"}},
	}

	root := Forward(reg, "chan-root", 1, 10, 2)
	assert.Len(t, root.Children, 2)
}
