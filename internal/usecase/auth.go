package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"askuni/internal/domain"
)

const resetSubject = "AskUni Password Reset Code"

// AuthOptions configures an AuthService.
type AuthOptions struct {
	Secret         []byte
	TokenTTL       time.Duration
	EmailPattern   string
	ResetCodeTTL   time.Duration
	BcryptCost     int
	MinPasswordLen int
}

// Claims are carried by issued bearer tokens.
type Claims struct {
	Email string `json:"email"`
	SID   string `json:"sid"`
	jwt.RegisteredClaims
}

// AuthService manages accounts, bearer tokens and password resets.
type AuthService struct {
	users  domain.UserStore
	mailer domain.Mailer
	opts   AuthOptions
	email  *regexp.Regexp
	audit  domain.AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthService creates an AuthService. The email pattern is matched
// case-insensitively.
func NewAuthService(users domain.UserStore, mailer domain.Mailer, opts AuthOptions, logger *slog.Logger) (*AuthService, error) {
	re, err := regexp.Compile("(?i)" + opts.EmailPattern)
	if err != nil {
		return nil, fmt.Errorf("auth: email pattern: %w", err)
	}
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("auth: empty token secret")
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:  users,
		mailer: mailer,
		opts:   opts,
		email:  re,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetAudit records account events to log. Nil disables the trail.
func (a *AuthService) SetAudit(sink domain.AuditSink) {
	a.audit = sink
}

func (a *AuthService) record(ctx context.Context, action domain.AuditAction, actor string, outcome domain.AuditOutcome, detail map[string]string) {
	if a.audit == nil {
		return
	}
	err := a.audit.Record(ctx, domain.AuditEvent{Action: action, Actor: actor, Outcome: outcome, Detail: detail})
	if err != nil {
		a.logger.Warn("audit write failed", "action", string(action), "error", err)
	}
}

// Register creates an account and returns a token for it.
func (a *AuthService) Register(ctx context.Context, email, password, name string) (string, *domain.User, error) {
	const op = "Auth.Register"
	email = normalizeEmail(email)
	if err := a.checkEmail(op, email); err != nil {
		return "", nil, err
	}
	if err := a.checkPassword(op, password); err != nil {
		return "", nil, err
	}

	if _, err := a.users.UserByEmail(ctx, email); err == nil {
		return "", nil, domain.NewDomainError(op, domain.ErrUserExists, "Account already exists. Please sign in.")
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return "", nil, domain.WrapOp(op, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.opts.BcryptCost)
	if err != nil {
		return "", nil, domain.WrapOp(op, err)
	}
	user := domain.User{
		ID:           "U" + ulid.Make().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		return "", nil, domain.WrapOp(op, err)
	}

	token, err := a.Issue(user)
	if err != nil {
		return "", nil, domain.WrapOp(op, err)
	}
	a.logger.Info("account registered", "user", user.ID)
	a.record(ctx, domain.AuditRegister, user.ID, domain.OutcomeSuccess, map[string]string{"email": email})
	return token, &user, nil
}

// Login checks credentials and returns a fresh token.
func (a *AuthService) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	const op = "Auth.Login"
	email = normalizeEmail(email)
	if !a.email.MatchString(email) {
		return "", nil, domain.NewDomainError(op, domain.ErrInvalidInput, "Invalid student email format.")
	}

	user, err := a.users.UserByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		a.record(ctx, domain.AuditLoginDenied, "", domain.OutcomeDenied, map[string]string{"email": email, "reason": "unknown account"})
		return "", nil, domain.NewDomainError(op, domain.ErrAuthInvalid, "Invalid credentials.")
	}
	if err != nil {
		return "", nil, domain.WrapOp(op, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		a.record(ctx, domain.AuditLoginDenied, user.ID, domain.OutcomeDenied, map[string]string{"email": email, "reason": "wrong password"})
		return "", nil, domain.NewDomainError(op, domain.ErrAuthInvalid, "Invalid credentials.")
	}

	token, err := a.Issue(*user)
	if err != nil {
		return "", nil, domain.WrapOp(op, err)
	}
	a.record(ctx, domain.AuditLogin, user.ID, domain.OutcomeSuccess, nil)
	return token, user, nil
}

// Me returns the account behind an authenticated identity.
func (a *AuthService) Me(ctx context.Context, id domain.Identity) (*domain.User, error) {
	if !id.Authenticated() {
		return nil, domain.NewDomainError("Auth.Me", domain.ErrAuthInvalid, "Missing token")
	}
	user, err := a.users.UserByEmail(ctx, id.Email)
	if err != nil {
		return nil, domain.WrapOp("Auth.Me", err)
	}
	return user, nil
}

// Issue signs a token for user.
func (a *AuthService) Issue(user domain.User) (string, error) {
	now := a.now()
	claims := Claims{
		Email: user.Email,
		SID:   user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.opts.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.opts.Secret)
}

// Verify parses a bearer token into an identity.
func (a *AuthService) Verify(token string) (domain.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return a.opts.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Identity{}, domain.NewDomainError("Auth.Verify", domain.ErrTokenExpired, "")
	case err != nil:
		return domain.Identity{}, domain.NewDomainError("Auth.Verify", domain.ErrAuthInvalid, err.Error())
	case claims.Email == "":
		return domain.Identity{}, domain.NewDomainError("Auth.Verify", domain.ErrAuthInvalid, "missing email claim")
	}
	return domain.Identity{UserID: claims.SID, Email: claims.Email}, nil
}

// RequestReset mails a one-time code when the account exists. Unknown
// accounts are not revealed to the caller.
func (a *AuthService) RequestReset(ctx context.Context, email string) error {
	const op = "Auth.RequestReset"
	email = normalizeEmail(email)
	if err := a.checkEmail(op, email); err != nil {
		return err
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			a.logger.Info("reset requested for unknown account")
			a.record(ctx, domain.AuditResetRequested, "", domain.OutcomeDenied, map[string]string{"email": email, "reason": "unknown account"})
			return nil
		}
		return domain.WrapOp(op, err)
	}

	code, err := newResetCode()
	if err != nil {
		return domain.WrapOp(op, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if err := a.users.SaveResetCode(ctx, domain.ResetCode{
		Email:     email,
		CodeHash:  string(hash),
		ExpiresAt: a.now().Add(a.opts.ResetCodeTTL).UTC(),
	}); err != nil {
		return domain.WrapOp(op, err)
	}

	body := fmt.Sprintf(`<p>Your AskUni reset code:</p><p style="font-size:20px"><b>%s</b></p><p>Valid for %d minutes.</p>`,
		code, int(a.opts.ResetCodeTTL.Minutes()))
	if err := a.mailer.Send(ctx, email, resetSubject, body); err != nil {
		return domain.NewDomainError(op, domain.ErrUnavailable, "Could not send reset code")
	}
	a.record(ctx, domain.AuditResetRequested, user.ID, domain.OutcomeSuccess, nil)
	return nil
}

// ResetPassword consumes a reset code and sets a new password.
func (a *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	const op = "Auth.ResetPassword"
	email = normalizeEmail(email)
	if err := a.checkEmail(op, email); err != nil {
		return err
	}
	if err := a.checkPassword(op, newPassword); err != nil {
		return err
	}

	rc, err := a.users.LatestResetCode(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewDomainError(op, domain.ErrResetCode, "Code not found")
	}
	if err != nil {
		return domain.WrapOp(op, err)
	}
	var reject string
	switch {
	case bcrypt.CompareHashAndPassword([]byte(rc.CodeHash), []byte(strings.TrimSpace(code))) != nil:
		reject = "Code not found"
	case rc.Used:
		reject = "Code already used"
	case a.now().After(rc.ExpiresAt):
		reject = "Code expired"
	}
	if reject != "" {
		a.record(ctx, domain.AuditPasswordReset, "", domain.OutcomeDenied, map[string]string{"email": email, "reason": reject})
		return domain.NewDomainError(op, domain.ErrResetCode, reject)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.opts.BcryptCost)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if err := a.users.UpdatePassword(ctx, email, string(hash)); err != nil {
		return domain.WrapOp(op, err)
	}
	if err := a.users.MarkResetCodeUsed(ctx, rc.ID); err != nil {
		return domain.WrapOp(op, err)
	}
	a.record(ctx, domain.AuditPasswordReset, "", domain.OutcomeSuccess, map[string]string{"email": email})
	return nil
}

func (a *AuthService) checkEmail(op, email string) error {
	if !a.email.MatchString(email) {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "Use your UoB email (e.g. 202012345@stu.uob.edu.bh)")
	}
	return nil
}

func (a *AuthService) checkPassword(op, password string) error {
	var letter, digit bool
	for _, r := range password {
		letter = letter || unicode.IsLetter(r)
		digit = digit || unicode.IsDigit(r)
	}
	if len(password) < a.opts.MinPasswordLen || !letter || !digit {
		return domain.NewDomainError(op, domain.ErrInvalidInput,
			fmt.Sprintf("Password must be at least %d chars & include letters and numbers.", a.opts.MinPasswordLen))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
