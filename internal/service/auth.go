package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrisync/internal/domain"
	"agrisync/internal/models"

	"github.com/rs/zerolog"
)

const (
	otpRequestLimit  = 3
	otpRequestWindow = 10 * time.Minute
)

var ErrOTPThrottled = errors.New("too many OTP requests, try again later")

// AuthGateway is the slice of the HTTP gateway the auth flows need.
type AuthGateway interface {
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string) (*models.Session, error)
	Login(ctx context.Context, phone, password string) (*models.Session, error)
	Register(ctx context.Context, user models.User, password string) (*models.Session, error)
}

// AuthService handles sign-in, sign-up and OTP throttling. On success the
// returned session is installed via SessionService.
type AuthService struct {
	gw       AuthGateway
	sessions *SessionService
	state    domain.StateRepository
	logger   *zerolog.Logger
}

func NewAuthService(gw AuthGateway, sessions *SessionService, state domain.StateRepository, logger *zerolog.Logger) *AuthService {
	return &AuthService{gw: gw, sessions: sessions, state: state, logger: logger}
}

// RequestOTP asks the backend to text a code, throttled per phone so a stuck
// retry button cannot burn through the SMS budget.
func (a *AuthService) RequestOTP(ctx context.Context, phone string) error {
	allowed, err := a.state.CheckRateLimit(ctx, "otp:"+phone, otpRequestLimit, otpRequestWindow)
	if err != nil {
		// Throttle state being unavailable should not block sign-in.
		a.logger.Warn().Err(err).Msg("OTP throttle check failed, allowing request")
	} else if !allowed {
		return ErrOTPThrottled
	}

	if err := a.gw.RequestOTP(ctx, phone); err != nil {
		return fmt.Errorf("request otp: %w", err)
	}
	return nil
}

// VerifyOTP exchanges the code for a session and signs in.
func (a *AuthService) VerifyOTP(ctx context.Context, phone, code string) (*models.Session, error) {
	sess, err := a.gw.VerifyOTP(ctx, phone, code)
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return a.install(ctx, sess)
}

// Login signs in with phone and password.
func (a *AuthService) Login(ctx context.Context, phone, password string) (*models.Session, error) {
	sess, err := a.gw.Login(ctx, phone, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return a.install(ctx, sess)
}

// Register creates an account and signs in.
func (a *AuthService) Register(ctx context.Context, user models.User, password string) (*models.Session, error) {
	sess, err := a.gw.Register(ctx, user, password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return a.install(ctx, sess)
}

// Logout clears the local session only; there is no server-side revocation
// endpoint.
func (a *AuthService) Logout(ctx context.Context) error {
	return a.sessions.Clear(ctx)
}

func (a *AuthService) install(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if err := a.sessions.Set(ctx, sess); err != nil {
		return nil, err
	}
	a.logger.Info().Str("user_id", sess.UserID()).Msg("Signed in")
	return sess, nil
}
