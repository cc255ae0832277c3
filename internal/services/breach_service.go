package services

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
)

const breachPrefixLen = 5

// BreachConfig configures the k-anonymity range lookup
type BreachConfig struct {
	Enabled   bool
	APIURL    string // range endpoint, the hash prefix is appended
	Timeout   time.Duration
	UserAgent string
}

// BreachService checks passwords against a k-anonymity breach corpus.
// Only the first five hex characters of the SHA-1 digest leave the process.
type BreachService struct {
	client *http.Client
	config BreachConfig
	logger *slog.Logger
}

func NewBreachService(config BreachConfig, logger *slog.Logger) *BreachService {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &BreachService{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger,
	}
}

// Lookup queries the range API. Any transport failure, timeout, cancellation
// or non-200 reply is reported as models.ErrBreachServiceUnavailable so callers
// cannot confuse "not checked" with "not breached".
func (s *BreachService) Lookup(ctx context.Context, password string) (*models.BreachInfo, error) {
	if !s.config.Enabled {
		return nil, fmt.Errorf("%w: breach check disabled", models.ErrBreachServiceUnavailable)
	}

	digest := sha1.Sum([]byte(password))
	hash := strings.ToUpper(hex.EncodeToString(digest[:]))
	prefix, suffix := hash[:breachPrefixLen], hash[breachPrefixLen:]

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIURL+prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBreachServiceUnavailable, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBreachServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrBreachServiceUnavailable, resp.StatusCode)
	}

	count, err := findSuffixCount(resp.Body, suffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBreachServiceUnavailable, err)
	}

	return &models.BreachInfo{Compromised: count > 0, Count: count}, nil
}

// CheckBreach is the fail-open form of Lookup: an unavailable service is logged
// and reported as not compromised
func (s *BreachService) CheckBreach(ctx context.Context, password string) models.BreachInfo {
	info, err := s.Lookup(ctx, password)
	if err != nil {
		if s.config.Enabled {
			s.logger.Warn("breach lookup unavailable, allowing password", slog.Any("error", err))
		}
		return models.BreachInfo{}
	}
	return *info
}

// findSuffixCount scans "SUFFIX:COUNT" lines. Padding rows carry a zero count and never match.
func findSuffixCount(body io.Reader, suffix string) (int, error) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		candidate, rawCount, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(candidate, suffix) {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(rawCount))
		if err != nil {
			return 0, fmt.Errorf("malformed count for matching suffix: %w", err)
		}
		return count, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read range response: %w", err)
	}
	return 0, nil
}
