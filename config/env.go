package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

// Env carries the process credentials and identity read from the
// environment. These never live in the YAML layers.
type Env struct {
	APIID     int
	APIHash   string
	Phone     string
	LLMAPIKey string

	// Optional.
	TargetChannel   string
	PersonalAccount string
	StatusToken     string
	StatusChat      string
	Profile         string
}

var phonePattern = regexp.MustCompile(`^\+[0-9]{10,15}$`)

// LoadEnv reads and validates the environment. All problems are
// reported at once in a multi-line error naming each variable.
func LoadEnv() (*Env, error) {
	var e = &Env{
		APIHash:         os.Getenv("API_HASH"),
		Phone:           os.Getenv("PHONE"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		TargetChannel:   os.Getenv("TARGET_CHANNEL"),
		PersonalAccount: os.Getenv("PERSONAL_ACCOUNT"),
		StatusToken:     os.Getenv("STATUS_TOKEN"),
		StatusChat:      os.Getenv("STATUS_CHAT_ID"),
		Profile:         os.Getenv("PROFILE"),
	}

	var problems []string
	var idRaw = os.Getenv("API_ID")
	if id, err := strconv.Atoi(idRaw); err != nil || id <= 0 {
		problems = append(problems, fmt.Sprintf("API_ID: must be a positive integer, got %q", idRaw))
	} else {
		e.APIID = id
	}
	if len(e.APIHash) != 32 {
		problems = append(problems, fmt.Sprintf("API_HASH: must be exactly 32 characters, got %d", len(e.APIHash)))
	}
	if !phonePattern.MatchString(e.Phone) {
		problems = append(problems, fmt.Sprintf("PHONE: must be + followed by 10-15 digits, got %q", textutil.MaskPhone(e.Phone)))
	}
	if len(e.LLMAPIKey) < 20 {
		problems = append(problems, fmt.Sprintf("LLM_API_KEY: must be at least 20 characters, got %d", len(e.LLMAPIKey)))
	}

	if len(problems) != 0 {
		return nil, fmt.Errorf("invalid environment:\n  %s", strings.Join(problems, "\n  "))
	}
	return e, nil
}

// String renders the environment with credentials masked, for startup
// logging.
func (e *Env) String() string {
	return fmt.Sprintf("api_id=%d api_hash=%s phone=%s llm_key=%s profile=%q",
		e.APIID, textutil.MaskSecret(e.APIHash), textutil.MaskPhone(e.Phone),
		textutil.MaskSecret(e.LLMAPIKey), e.Profile)
}
