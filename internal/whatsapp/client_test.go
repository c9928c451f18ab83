package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.Config{GraphAPIURL: srv.URL + "/", GraphAPIVersion: "v21.0"})
}

var testConn = &models.WhatsAppConnection{PhoneNumberID: "12345", AccessToken: "tok"}

func TestSendText(t *testing.T) {
	var got GenericMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`))
	})

	id, err := client.SendText(context.Background(), testConn, "919900000001", "Still there?")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "Still there?", got.Text.Body)
	assert.Equal(t, "919900000001", got.To)
}

func TestSendTemplateOrdersVariables(t *testing.T) {
	var got GenericMessage
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
	})

	_, err := client.SendTemplate(context.Background(), testConn, "9199", "order_update", "en_US", []string{"Asha", "#42"})
	require.NoError(t, err)
	require.NotNil(t, got.Template)
	assert.Equal(t, "order_update", got.Template.Name)
	assert.Equal(t, "en_US", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	params := got.Template.Components[0].Parameters
	require.Len(t, params, 2)
	assert.Equal(t, "Asha", params[0].Text)
	assert.Equal(t, "#42", params[1].Text)
}

func TestSendSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	})

	_, err := client.SendText(context.Background(), testConn, "9199", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 100, apiErr.Code)
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestSendRequiresCredentials(t *testing.T) {
	client := NewClient(&config.Config{GraphAPIURL: "http://unused", GraphAPIVersion: "v21.0"})
	_, err := client.SendText(context.Background(), &models.WhatsAppConnection{}, "9199", "hi")
	assert.Error(t, err)
}
