package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// api is the shared plumbing for the portal's REST surfaces.
type api struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

func newAPI(baseURL, credential string, httpClient *http.Client) api {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return api{baseURL: baseURL, credential: credential, httpClient: httpClient}
}

type apiError struct {
	Error string `json:"error"`
}

func (a *api) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.credential)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &ServiceError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ChatAPI is the client for the external conversation store.
type ChatAPI struct {
	api
}

// NewChatAPI creates a conversation-store client.
func NewChatAPI(baseURL, credential string, httpClient *http.Client) *ChatAPI {
	return &ChatAPI{api: newAPI(baseURL, credential, httpClient)}
}

// UserRef is a conversation participant reference.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Conversation is the server-owned conversation record; the client holds a
// cached copy refreshed on open and on push events.
type Conversation struct {
	ID           string         `json:"id"`
	Participants []UserRef      `json:"participants"`
	UnreadCounts map[string]int `json:"unreadCountByUser"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Conversations lists the caller's conversations with participants, unread
// counts and last message.
func (c *ChatAPI) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages fetches the transcript of a conversation.
func (c *ChatAPI) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	var out []Message
	if err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type sendMessageRequest struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendMessage posts a new message and returns the server-assigned record.
// The local transcript must not be mutated from this result; delivery is
// confirmed only by the new_message echo.
func (c *ChatAPI) SendMessage(ctx context.Context, conversationID, content string, attachments []Attachment) (*Message, error) {
	var out Message
	req := sendMessageRequest{Content: content, Attachments: attachments}
	if err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadMedia uploads an attachment file and returns its resource descriptor.
func (c *ChatAPI) UploadMedia(ctx context.Context, filename string, r io.Reader) (*Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/upload-media", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "POST /chat/upload-media", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return nil, &ServiceError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	var out Attachment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// RoomAPI is the client for the external room/meeting service.
type RoomAPI struct {
	api
}

// NewRoomAPI creates a room-service client.
func NewRoomAPI(baseURL, credential string, httpClient *http.Client) *RoomAPI {
	return &RoomAPI{api: newAPI(baseURL, credential, httpClient)}
}

// RoomJoin is the join credential handed out by the room service. The token
// is an opaque, time-bounded authorization for one media room; media
// transport itself is out of this layer's hands.
type RoomJoin struct {
	Token           string          `json:"token"`
	WsURL           string          `json:"wsUrl"`
	AppointmentInfo json.RawMessage `json:"appointmentInfo,omitempty"`
}

// CreateRoomRequest starts a call room, ringing the invitee.
type CreateRoomRequest struct {
	InviteeID  string `json:"inviteeId"`
	HospitalID string `json:"hospitalId,omitempty"`
}

// CreateRoom creates a call room and returns its raw record.
func (c *RoomAPI) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RawMeeting, error) {
	var out RawMeeting
	if err := c.do(ctx, http.MethodPost, "/video-rooms/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Join requests a join credential for an existing room.
func (c *RoomAPI) Join(ctx context.Context, roomID string) (*RoomJoin, error) {
	var out RoomJoin
	if err := c.do(ctx, http.MethodGet, "/video-rooms/join/"+roomID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// End ends a room. The server re-verifies creator authority independently of
// the client-side gate.
func (c *RoomAPI) End(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/video-rooms/"+roomID+"/end", nil, nil)
}

// CodeValidation is the result of checking a share code.
type CodeValidation struct {
	Valid  bool   `json:"valid"`
	RoomID string `json:"roomId,omitempty"`
	Status string `json:"status,omitempty"`
}

// ValidateCode checks whether a room share code is joinable.
func (c *RoomAPI) ValidateCode(ctx context.Context, code string) (*CodeValidation, error) {
	var out CodeValidation
	if err := c.do(ctx, http.MethodGet, "/video-rooms/validate-code/"+code, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type joinByCodeRequest struct {
	Code string `json:"code"`
}

// JoinByCode exchanges a share code for a join credential.
func (c *RoomAPI) JoinByCode(ctx context.Context, code string) (*RoomJoin, error) {
	var out RoomJoin
	if err := c.do(ctx, http.MethodPost, "/video-rooms/join-by-code", joinByCodeRequest{Code: code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Meetings fetches the hospital-scoped meeting snapshot. status may be empty
// for all statuses.
func (c *RoomAPI) Meetings(ctx context.Context, status string) ([]RawMeeting, error) {
	path := "/doctor-meetings"
	if status != "" {
		path += "?status=" + status
	}
	var out []RawMeeting
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
