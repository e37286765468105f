package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/capital-ledger/ledger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// DefaultSessionTTL is used when the configured TTL is not positive.
const DefaultSessionTTL = 24 * time.Hour

const tokenBytes = 32

var (
	passwordChars  = regexp.MustCompile(`^[A-Za-z0-9]{8,72}$`)
	passwordLetter = regexp.MustCompile(`[A-Za-z]`)
	passwordDigit  = regexp.MustCompile(`[0-9]`)
)

// ValidPassword applies the password rule: 8 to 72 letters and digits, with
// at least one of each. 72 bytes is the most bcrypt will hash.
func ValidPassword(p string) bool {
	return passwordChars.MatchString(p) &&
		passwordLetter.MatchString(p) &&
		passwordDigit.MatchString(p)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignupInput is the signup form.
type SignupInput struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Service implements signup, login and session checks.
type Service struct {
	store Store
	ttl   time.Duration
	cost  int
	now   func() time.Time
	log   *zap.Logger
}

type Option func(*Service)

// WithClock overrides time.Now for session expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(store Store, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Service{
		store: store,
		ttl:   ttl,
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
		log:   zap.L().Named("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime of newly issued sessions.
func (s *Service) TTL() time.Duration { return s.ttl }

// Signup registers a user, creates its empty account and logs it in.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, Session, error) {
	email := NormalizeEmail(in.Email)
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" ||
		email == "" || in.Password == "" || in.ConfirmPassword == "" {
		return User{}, Session{}, ErrMissingFields
	}
	if in.Password != in.ConfirmPassword {
		return User{}, Session{}, ErrPasswordMismatch
	}
	if !ValidPassword(in.Password) {
		return User{}, Session{}, ErrWeakPassword
	}

	if _, err := s.store.UserByEmail(ctx, email); err == nil {
		return User{}, Session{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, Session{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return User{}, Session{}, ErrWeakPassword
	}
	if err != nil {
		return User{}, Session{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := User{
		ID:           UserID(uuid.NewString()),
		AccountID:    ledger.AccountID(uuid.NewString()),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u, ledger.NewAccount(u.AccountID, now)); err != nil {
		return User{}, Session{}, err
	}
	s.log.Info("user signed up",
		zap.String("user_id", string(u.ID)),
		zap.String("account_id", string(u.AccountID)))

	sess, err := s.issue(ctx, u)
	if err != nil {
		return User{}, Session{}, err
	}
	return u, sess, nil
}

// Login checks credentials and issues a new session.
func (s *Service) Login(ctx context.Context, email, password string) (User, Session, error) {
	u, err := s.store.UserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return User{}, Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		s.log.Info("login rejected", zap.String("user_id", string(u.ID)))
		return User{}, Session{}, ErrInvalidCredentials
	}

	sess, err := s.issue(ctx, u)
	if err != nil {
		return User{}, Session{}, err
	}
	return u, sess, nil
}

// Logout ends the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, token)
}

// Authenticate resolves a session token. Expired sessions are deleted.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrUnauthenticated
	}
	sess, err := s.store.Session(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, err
	}
	if sess.IsExpired(s.now()) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			s.log.Warn("delete expired session", zap.Error(err))
		}
		return Session{}, ErrUnauthenticated
	}
	return sess, nil
}

// User returns the session owner.
func (s *Service) User(ctx context.Context, id UserID) (User, error) {
	return s.store.UserByID(ctx, id)
}

// DeleteUser removes the user and every session it holds.
func (s *Service) DeleteUser(ctx context.Context, id UserID) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("user_id", string(id)))
	return nil
}

// SweepExpired purges sessions that have expired.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now())
}

func (s *Service) issue(ctx context.Context, u User) (Session, error) {
	token, err := newToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	sess := Session{
		Token:     token,
		UserID:    u.ID,
		AccountID: u.AccountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
