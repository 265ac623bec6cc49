package types

import (
	"regexp"
)

// MaxContentBytes caps a single message's text payload.
const MaxContentBytes = 65536 // 64KB

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate ensures the message meets all requirements before it enters
// the stream or the wire.
func (m *Message) Validate() error {
	if !IsValidRoomID(m.RoomID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(m.SenderID) {
		return ErrInvalidUserID
	}
	if !IsValidMessageType(m.Type) {
		return ErrInvalidMessageType
	}
	if !IsValidOrigin(m.Origin) {
		return ErrInvalidOrigin
	}
	// Content may be empty only for attachment messages.
	if m.Content == "" && m.FileURL == "" {
		return ErrEmptyMessage
	}
	if len(m.Content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidRoomID checks if a room (question) ID meets format requirements.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return idRegex.MatchString(roomID)
}

// IsValidMessageType checks if the message type is one of the allowed types.
func IsValidMessageType(msgType MessageType) bool {
	switch msgType {
	case MessageTypeText,
		MessageTypeImage,
		MessageTypeFile,
		MessageTypePublicPDF:
		return true
	default:
		return false
	}
}

// IsValidOrigin checks if the origin tag is one of the allowed values.
func IsValidOrigin(origin Origin) bool {
	switch origin {
	case OriginRemote, OriginLocalPending, OriginLocalConfirmed:
		return true
	default:
		return false
	}
}
