package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// EmailService delivers transactional mail through the Resend HTTP API.
// When no API key is configured it logs and drops the message, which keeps
// local development working without credentials.
type EmailService struct {
	apiKey      string
	fromEmail   string
	frontendURL string
	client      *http.Client
}

func NewEmailService() *EmailService {
	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	return &EmailService{
		apiKey:      os.Getenv("RESEND_API_KEY"),
		fromEmail:   os.Getenv("FROM_EMAIL"),
		frontendURL: frontendURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SendInvitation mails the invite link to the target address.
func (s *EmailService) SendInvitation(to, token string) error {
	link := fmt.Sprintf("%s/%s", s.frontendURL, token)
	html := fmt.Sprintf(`
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Vous êtes invité !</h2>
  <p>Complétez votre inscription en suivant ce lien :</p>
  <p><a href="%s" style="display: inline-block; background: #4f46e5; color: white; padding: 12px 24px; text-decoration: none; border-radius: 8px;">Remplir le formulaire</a></p>
  <p style="color: #e74c3c;">⚠️ Ce lien est à usage unique et expire dans 7 jours.</p>
</div>`, link)
	return s.send(to, "Votre invitation LinkOnboard", html)
}

// SendCredentials mails a freshly provisioned member their login and
// initial password.
func (s *EmailService) SendCredentials(to, initialSecret string) error {
	html := fmt.Sprintf(`
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Votre demande a été acceptée 🎉</h2>
  <p>Votre compte membre est prêt. Connectez-vous avec :</p>
  <ul>
    <li>Identifiant : <strong>%s</strong></li>
    <li>Mot de passe initial : <strong>%s</strong></li>
  </ul>
  <p><a href="%s/login">Se connecter</a></p>
</div>`, to, initialSecret, s.frontendURL)
	return s.send(to, "Votre compte est prêt", html)
}

func (s *EmailService) send(to, subject, html string) error {
	if s.apiKey == "" {
		log.Printf("📧 Email skipped (RESEND_API_KEY not set): %q to %s", subject, to)
		return nil
	}

	payload := map[string]interface{}{
		"from":    fmt.Sprintf("LinkOnboard <%s>", s.fromEmail),
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", "https://api.resend.com/emails", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}
	return nil
}
