package api

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fluxhealth/channelengine/message"
	"github.com/labstack/echo/v4"
)

// exportFormat and exportAlgorithm are fixed by the wire envelope; they are
// echoed back on export and checked on import.
const (
	exportFormat    = "mirth-encrypted-v1"
	exportAlgorithm = "aes-256-gcm"
)

// exportEnvelope is the wire format for GET .../_export and POST .../_import.
type exportEnvelope struct {
	Format    string `json:"format"`
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
	Data      string `json:"data"`
}

// exportPayload is the plaintext sealed inside the envelope.
type exportPayload struct {
	OriginalID int64            `json:"originalId"`
	ServerID   string           `json:"serverId"`
	Contents   []message.Content `json:"contents"`
}

func (h *Handlers) gcm() (cipher.AEAD, error) {
	if len(h.ExportKey) != 32 {
		return nil, fmt.Errorf("api: export key must be 32 bytes for aes-256-gcm")
	}
	block, err := aes.NewCipher(h.ExportKey)
	if err != nil {
		return nil, fmt.Errorf("api: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// ExportMessage seals a message's header and every content row into the
// encrypted export envelope, matching GET /channels/:id/messages/:messageId/_export.
func (h *Handlers) ExportMessage(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}
	messageID, err := strconv.ParseInt(c.Param("messageId"), 10, 64)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid messageId")
	}

	msg, err := st.GetMessage(messageID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, "message not found")
	}
	contents, err := st.ListAllContent(messageID)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}

	plaintext, err := json.Marshal(exportPayload{OriginalID: msg.ID, ServerID: msg.ServerID, Contents: contents})
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "failed to marshal export payload")
	}

	gcm, err := h.gcm()
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return errJSON(c, http.StatusInternalServerError, "failed to generate iv")
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return c.JSON(http.StatusOK, exportEnvelope{
		Format:    exportFormat,
		Algorithm: exportAlgorithm,
		IV:        base64.StdEncoding.EncodeToString(iv),
		Tag:       base64.StdEncoding.EncodeToString(tag),
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
	})
}

// ImportMessage unseals an export envelope and writes it back as a new
// message whose OriginalID points at the message it was exported from,
// matching POST /channels/:id/messages/_import.
func (h *Handlers) ImportMessage(c echo.Context) error {
	st, err := h.store(c)
	if err != nil {
		return err
	}

	var env exportEnvelope
	if err := c.Bind(&env); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid export envelope")
	}
	if env.Format != exportFormat || env.Algorithm != exportAlgorithm {
		return errJSON(c, http.StatusBadRequest, "unsupported export envelope")
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid iv encoding")
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid tag encoding")
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid data encoding")
	}

	gcm, err := h.gcm()
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, err.Error())
	}
	plaintext, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "failed to decrypt export envelope")
	}

	var payload exportPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return errJSON(c, http.StatusBadRequest, "corrupt export payload")
	}

	originalID := payload.OriginalID
	newMsg := &message.Message{ServerID: payload.ServerID, OriginalID: &originalID}
	if err := st.InsertMessage(newMsg); err != nil {
		return errJSON(c, http.StatusInternalServerError, "failed to insert imported message")
	}
	for _, content := range payload.Contents {
		content.MessageID = newMsg.ID
		if err := st.PutContent(&content); err != nil {
			return errJSON(c, http.StatusInternalServerError, "failed to write imported content")
		}
	}

	return c.JSON(http.StatusOK, SubmitResponse{MessageID: newMsg.ID})
}
