package connection

import "context"

// Feedback is the banner level shown on the dashboard after a consent redirect.
type Feedback string

const (
	FeedbackSuccess Feedback = "success"
	FeedbackWarning Feedback = "warning"
	FeedbackError   Feedback = "error"
	FeedbackInfo    Feedback = "info"
)

// Dashboard banner messages
const (
	MessageConnected     = "Votre compte bancaire a été connecté avec succès !"
	MessageUnverified    = "Connexion créée mais vérification impossible."
	MessageInactive      = "Connexion bancaire annulée ou incomplète."
	MessageFetching      = "Récupération des données bancaires en cours..."
	MessageInProgress    = "Connexion en cours de traitement..."
	MessageConnectFailed = "Une erreur est survenue lors de la connexion bancaire."
)

// CallbackParams are the query parameters of the consent redirect.
type CallbackParams struct {
	ConnectionID string
	CustomerID   string
	Stage        string
	Error        string
	ErrorMessage string
}

// CallbackOutcome is what the browser is redirected with.
type CallbackOutcome struct {
	Status       Feedback
	Message      string
	ConnectionID string
}

// StatusLookup fetches the live status of a connection.
type StatusLookup func(ctx context.Context, connectionID string) (Status, error)

// ResolveCallback maps a consent redirect onto a dashboard banner. An explicit
// error always wins. Otherwise a connection id is checked live, then the
// intermediate stages are reported, then a generic in-progress message.
func ResolveCallback(ctx context.Context, p CallbackParams, lookup StatusLookup) CallbackOutcome {
	if p.ErrorMessage != "" || p.Error != "" || p.Stage == "error" {
		msg := p.ErrorMessage
		if msg == "" {
			msg = MessageConnectFailed
		}
		return CallbackOutcome{Status: FeedbackError, Message: msg}
	}

	if p.ConnectionID != "" {
		status, err := lookup(ctx, p.ConnectionID)
		if err != nil {
			return CallbackOutcome{Status: FeedbackWarning, Message: MessageUnverified, ConnectionID: p.ConnectionID}
		}
		switch status {
		case StatusActive:
			return CallbackOutcome{Status: FeedbackSuccess, Message: MessageConnected, ConnectionID: p.ConnectionID}
		case StatusInactive, StatusDisabled:
			return CallbackOutcome{Status: FeedbackWarning, Message: MessageInactive, ConnectionID: p.ConnectionID}
		default:
			return CallbackOutcome{Status: FeedbackInfo, Message: MessageInProgress, ConnectionID: p.ConnectionID}
		}
	}

	switch p.Stage {
	case "fetching", "interactive":
		return CallbackOutcome{Status: FeedbackInfo, Message: MessageFetching}
	}

	return CallbackOutcome{Status: FeedbackInfo, Message: MessageInProgress}
}
