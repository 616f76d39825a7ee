package messages

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Render substitutes {key} placeholders in the body.
func (m MessageText) Render(vars map[string]string) MessageText {
	body := m.Body
	for k, v := range vars {
		body = strings.ReplaceAll(body, "{"+k+"}", v)
	}
	return MessageText{Title: m.Title, Body: body}
}

type Messages struct {
	SyncComplete      MessageText `json:"sync_complete"`
	SyncFailed        MessageText `json:"sync_failed"`
	ConnectionPending MessageText `json:"connection_pending"`
}

// Default is used when no catalogue file is configured or a key is missing.
func Default() Messages {
	return Messages{
		SyncComplete: MessageText{
			Title: "Synchronisation terminée",
			Body:  "{accounts} comptes et {transactions} transactions mis à jour.",
		},
		SyncFailed: MessageText{
			Title: "Échec de la synchronisation",
			Body:  "Nous n'avons pas pu synchroniser votre banque. Veuillez réessayer.",
		},
		ConnectionPending: MessageText{
			Title: "Connexion en cours",
			Body:  "Votre banque est en cours de connexion.",
		},
	}
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the notifications JSON file and caches the result.
// Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		loaded, loadErr = parseFile(path)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

func parseFile(path string) (Messages, error) {
	msgs := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return msgs, fmt.Errorf("failed to read messages file: %w", err)
	}
	var fromFile Messages
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return msgs, fmt.Errorf("failed to parse messages file: %w", err)
	}
	merge(&msgs.SyncComplete, fromFile.SyncComplete)
	merge(&msgs.SyncFailed, fromFile.SyncFailed)
	merge(&msgs.ConnectionPending, fromFile.ConnectionPending)
	return msgs, nil
}

func merge(dst *MessageText, src MessageText) {
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Body != "" {
		dst.Body = src.Body
	}
}
