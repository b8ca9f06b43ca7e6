// Package wire defines the on-wire message formats carried over the
// broadcast topics and RPC protocols (spec.md §6). Broadcast messages carry
// an explicit "type" discriminant instead of relying on trial-unmarshal
// sniffing (spec.md §9 REDESIGN FLAGS).
package wire

// Story mirrors spec.md §3's Story entity.
type Story struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Header    string `json:"header"`
	Body      string `json:"body"`
	Public    bool   `json:"public"`
	Channel   string `json:"channel"`
	CreatedAt int64  `json:"created_at"`
	AutoShare *bool  `json:"auto_share,omitempty"`
}

// Channel mirrors spec.md §3's Channel entity.
type Channel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   int64  `json:"created_at"`
}

// BroadcastType is the top-level discriminant on every broadcast-topic
// message.
type BroadcastType string

const (
	TypeStory        BroadcastType = "story"
	TypeListRequest  BroadcastType = "list-request"
	TypeListResponse BroadcastType = "list-response"
	TypePeerName     BroadcastType = "peer-name"
	TypeChannel      BroadcastType = "channel"
	TypeRelay        BroadcastType = "relay"
	TypePubKey       BroadcastType = "pubkey"
)

// Envelope is the outer tagged union carried on the stories/default/relay
// broadcast topics. Exactly one of the payload fields is populated,
// matching Type.
type Envelope struct {
	Type BroadcastType `json:"type"`

	Story        *PublishedStory `json:"story,omitempty"`
	ListRequest  *ListRequest    `json:"list_request,omitempty"`
	ListResponse *ListResponse   `json:"list_response,omitempty"`
	PeerName     *PeerName       `json:"peer_name,omitempty"`
	Channel      *Channel        `json:"channel,omitempty"`
	Relay        *RelayEnvelope  `json:"relay,omitempty"`
	PubKey       *PubKeyAnnounce `json:"pubkey,omitempty"`
}

// PublishedStory is broadcast whenever a local story is made public.
type PublishedStory struct {
	Story     Story  `json:"story"`
	Publisher string `json:"publisher"`
}

// ListRequestMode tags whether a list request targets every peer or one.
type ListRequestMode struct {
	All bool   `json:"all"`
	One string `json:"one,omitempty"`
}

// ListRequest asks peers to enumerate their locally stored public stories.
type ListRequest struct {
	Mode ListRequestMode `json:"mode"`
	From string          `json:"from"`
}

// ListResponse answers a ListRequest with locally stored public stories.
type ListResponse struct {
	Mode     ListRequestMode `json:"mode"`
	Receiver string          `json:"receiver"`
	Data     []Story         `json:"data"`
}

// PeerName announces a display name for a peer id.
type PeerName struct {
	PeerID string `json:"peer_id"`
	Name   string `json:"name"`
}

// PubKeyAnnounce publishes the sender's box (encryption) public key so peers
// can populate the peer-id → public-key map the Crypto Service needs to
// encrypt relay envelopes (spec.md §3.9 supplemented; original code path
// exchanges this once per new connection).
type PubKeyAnnounce struct {
	PeerID    string `json:"peer_id"`
	PublicKey []byte `json:"public_key"`
}

// RelayEnvelope is the on-wire container for an end-to-end encrypted direct
// message (spec.md §3).
type RelayEnvelope struct {
	MessageID        string           `json:"message_id"`
	TargetPeerID     string           `json:"target_peer_id"`
	TargetName       string           `json:"target_name"`
	EncryptedPayload EncryptedPayload `json:"encrypted_payload"`
	SenderSignature  MessageSignature `json:"sender_signature"`
	HopCount         int              `json:"hop_count"`
	MaxHops          int              `json:"max_hops"`
	Timestamp        int64            `json:"timestamp"`
	RelayAttempt     bool             `json:"relay_attempt"`
}

// EncryptedPayload is an authenticated-encryption ciphertext plus the
// sender's ephemeral/long-term box public key.
type EncryptedPayload struct {
	Ciphertext      []byte `json:"ciphertext"`
	Nonce           []byte `json:"nonce"`
	SenderPublicKey []byte `json:"sender_public_key"`
}

// MessageSignature is a detached signature over the plaintext payload bytes.
type MessageSignature struct {
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
	Timestamp int64  `json:"timestamp"`
}

// DirectMessage is the plaintext payload carried inside a RelayEnvelope once
// decrypted (spec.md §3).
type DirectMessage struct {
	FromPeerID string `json:"from_peer_id"`
	FromName   string `json:"from_name"`
	ToPeerID   string `json:"to_peer_id"`
	ToName     string `json:"to_name"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
	IsOutgoing bool   `json:"is_outgoing"`
}

// StorySyncRequest is the Story Sync RPC request (spec.md §4.4, §6).
type StorySyncRequest struct {
	FromPeerID         string   `json:"from_peer_id"`
	FromName           string   `json:"from_name"`
	LastSyncTimestamp  int64    `json:"last_sync_timestamp"`
	SubscribedChannels []string `json:"subscribed_channels"`
	Timestamp          int64    `json:"timestamp"`
}

// StorySyncResponse is the Story Sync RPC response.
type StorySyncResponse struct {
	Stories        []Story   `json:"stories"`
	Channels       []Channel `json:"channels"`
	FromPeerID     string    `json:"from_peer_id"`
	FromName       string    `json:"from_name"`
	SyncTimestamp  int64     `json:"sync_timestamp"`
}

// NodeDescriptionRequest is the Node Description RPC request.
type NodeDescriptionRequest struct {
	FromPeerID string `json:"from_peer_id"`
	FromName   string `json:"from_name"`
	Timestamp  int64  `json:"timestamp"`
}

// NodeDescriptionResponse is the Node Description RPC response. Description
// is nil when the node has not set one.
type NodeDescriptionResponse struct {
	Description *string `json:"description,omitempty"`
	FromPeerID  string  `json:"from_peer_id"`
	FromName    string  `json:"from_name"`
	Timestamp   int64   `json:"timestamp"`
}

// DirectMessageRequest is the Direct Message RPC request.
type DirectMessageRequest struct {
	FromPeerID string `json:"from_peer_id"`
	FromName   string `json:"from_name"`
	ToName     string `json:"to_name"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

// DirectMessageResponse is the Direct Message RPC response.
type DirectMessageResponse struct {
	Received  bool  `json:"received"`
	Timestamp int64 `json:"timestamp"`
}
