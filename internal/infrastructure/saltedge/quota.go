package saltedge

import (
	"sync"
	"time"
)

const sandboxTestBudget = 10

// QuotaUse is one recorded connection attempt.
type QuotaUse struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Provider  string    `json:"provider,omitempty"`
	Success   bool      `json:"success"`
}

type QuotaStatus struct {
	TotalTests     int        `json:"totalTests"`
	UsedTests      int        `json:"usedTests"`
	RemainingTests int        `json:"remainingTests"`
	TestHistory    []QuotaUse `json:"testHistory"`
}

type Recommendation struct {
	Priority string `json:"priority"`
	Message  string `json:"message"`
	Action   string `json:"action"`
}

// SandboxQuota tracks the limited number of live-bank connection attempts a
// pending-mode application is granted.
type SandboxQuota struct {
	mu      sync.Mutex
	total   int
	used    int
	history []QuotaUse
	now     func() time.Time
}

func NewSandboxQuota() *SandboxQuota {
	return &SandboxQuota{total: sandboxTestBudget, now: time.Now}
}

// Record counts an attempt. Attempts beyond the budget are ignored.
func (q *SandboxQuota) Record(action, provider string, success bool) QuotaStatus {
	q.mu.Lock()
	if q.used < q.total {
		q.used++
		q.history = append(q.history, QuotaUse{
			Timestamp: q.now(),
			Action:    action,
			Provider:  provider,
			Success:   success,
		})
	}
	q.mu.Unlock()
	return q.Status()
}

func (q *SandboxQuota) Status() QuotaStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	history := make([]QuotaUse, len(q.history))
	copy(history, q.history)
	return QuotaStatus{
		TotalTests:     q.total,
		UsedTests:      q.used,
		RemainingTests: q.total - q.used,
		TestHistory:    history,
	}
}

func (q *SandboxQuota) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used = 0
	q.history = nil
}

// Recommendations suggests the next testing step from the remaining budget.
func Recommendations(s QuotaStatus) []Recommendation {
	usage := 0.0
	if s.TotalTests > 0 {
		usage = float64(s.UsedTests) / float64(s.TotalTests) * 100
	}

	var recs []Recommendation
	if s.UsedTests == 0 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Message:  `Commencez par tester avec les "fake banks" pour valider le flow technique`,
			Action:   "Utilisez les providers fake_oauth_client_xf ou fake_client_xf",
		})
	}
	if usage < 30 {
		recs = append(recs, Recommendation{
			Priority: "medium",
			Message:  "Testez avec une banque française populaire pour valider l'intégration réelle",
			Action:   "Essayez Crédit Agricole (credit_agricole_particuliers_fr) ou BNP Paribas",
		})
	}
	if usage >= 30 && usage < 70 {
		recs = append(recs, Recommendation{
			Priority: "medium",
			Message:  "Testez la gestion d'erreurs et les cas limites",
			Action:   "Essayez avec des identifiants incorrects ou annulez le processus",
		})
	}
	if s.RemainingTests <= 3 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Message:  "Attention : Il vous reste peu de tests. Utilisez-les judicieusement.",
			Action:   "Préparez vos identifiants à l'avance et documentez chaque test",
		})
	}
	if s.UsedTests >= s.TotalTests {
		recs = append(recs, Recommendation{
			Priority: "critical",
			Message:  `Vous avez épuisé vos tests. Prêt pour demander le passage en mode "test".`,
			Action:   "Contactez Salt Edge pour upgrader votre compte vers le mode test",
		})
	}
	return recs
}
