package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"produse/internal/model"
	"produse/internal/pkg/metrics"
	"produse/internal/pkg/notify"
	"produse/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Users 是认证接口依赖的用户存储。
type Users interface {
	Create(ctx context.Context, user *model.User) error
	Exists(ctx context.Context, email, username string) (bool, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByLogin(ctx context.Context, handle string) (*model.User, error)
	Activate(ctx context.Context, token string) (*model.User, error)
	RecordResend(ctx context.Context, id uint, expectedCount int, token string, at time.Time) error
	UpdateProfile(ctx context.Context, id uint, upd store.ProfileUpdate) (*model.User, error)
	Delete(ctx context.Context, id uint) error
}

// Mailer 发送账户验证邮件。
type Mailer interface {
	SendVerification(ctx context.Context, mail notify.VerificationMail) error
}

// Options 认证相关参数。
type Options struct {
	JWTSecret    string
	TokenTTL     time.Duration
	CookieName   string
	CookieSecure bool
	BcryptCost   int
	BaseURL      string // 验证链接的前缀
}

// Handler 提供注册、验证、登录与个人资料接口。
type Handler struct {
	users    Users
	mailer   Mailer
	resender *Resender
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler 创建 Auth Handler。
//
// 参数:
//
//	users: 用户存储
//	mailer: 验证邮件发送器
//	opts: 令牌、Cookie 与密码哈希参数
//	logger: 日志记录器
//
// 返回值:
//
//	*Handler: Auth Handler 实例
func NewHandler(users Users, mailer Mailer, opts Options, logger *slog.Logger) *Handler {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.BcryptCost <= 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Handler{
		users:    users,
		mailer:   mailer,
		resender: NewResender(users, mailer, nil, opts.BaseURL, logger),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Email           string `json:"email"`
	Password        string `json:"password"`
}

type profileRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

type userResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Username:  u.Username,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

// Register 创建未激活的账户并发送验证邮件。邮件发送失败时回滚注册。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	username := strings.TrimSpace(req.Username)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if username == "" {
		generated, err := randomUsername()
		if err != nil {
			h.serverError(c, "generate username failed", err)
			return
		}
		username = generated
	}

	exists, err := h.users.Exists(ctx, email, username)
	if err != nil {
		h.serverError(c, "query user failed", err)
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "email or username already taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.opts.BcryptCost)
	if err != nil {
		h.serverError(c, "hash password failed", err)
		return
	}
	token, err := newVerificationToken()
	if err != nil {
		h.serverError(c, "generate verification token failed", err)
		return
	}

	user := model.User{
		Name:              name,
		Email:             email,
		Username:          username,
		PasswordHash:      string(hash),
		Status:            model.UserStatusDisabled,
		VerificationToken: &token,
	}
	if err := h.users.Create(ctx, &user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email or username already taken"})
			return
		}
		h.serverError(c, "create user failed", err)
		return
	}

	err = h.mailer.SendVerification(ctx, notify.VerificationMail{
		To:   email,
		Name: name,
		Link: verificationLink(h.opts.BaseURL, token),
	})
	if err != nil {
		if delErr := h.users.Delete(ctx, user.ID); delErr != nil {
			h.logger.Error("rollback registration failed", slog.String("email", email), slog.String("error", delErr.Error()))
		}
		h.logger.Warn("send verification email failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed: could not send verification email"})
		return
	}

	h.logger.Info("user registered", slog.String("email", email), slog.String("username", username))
	c.JSON(http.StatusCreated, gin.H{"message": "registration successful, please check your email", "email": email})
}

// VerifyEmail 以邮件中的一次性令牌激活账户，成功后跳转到登录页。
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.String(http.StatusBadRequest, "invalid token")
		return
	}
	user, err := h.users.Activate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			c.Data(http.StatusBadRequest, "text/html; charset=utf-8",
				[]byte("<h1>Invalid or Expired Token</h1><p>The verification link is wrong or has already been used.</p>"))
			return
		}
		h.logger.Error("verify email failed", slog.String("error", err.Error()))
		c.String(http.StatusInternalServerError, "server error")
		return
	}
	h.logger.Info("email verified", slog.Uint64("user_id", uint64(user.ID)))
	c.Redirect(http.StatusFound, "/login/index.html?verified=true")
}

// Login 以邮箱或用户名登录，签发 JWT 并写入 httpOnly Cookie。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	handle := strings.TrimSpace(req.EmailOrUsername)
	if handle == "" {
		handle = strings.TrimSpace(req.Email)
	}
	if handle == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email/username and password are required"})
		return
	}

	user, err := h.users.FindByLogin(c.Request.Context(), handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.serverError(c, "query user failed", err)
		return
	}
	if !user.IsActive() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account not verified, please check your email"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		h.serverError(c, "sign token failed", err)
		return
	}
	h.setCookie(c, token, int(h.opts.TokenTTL/time.Second))

	h.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"name":     user.Name,
		"email":    user.Email,
		"username": user.Username,
		"token":    token,
	})
}

// Logout 清除登录 Cookie。令牌本身无状态，到期前仍可通过 Bearer 使用。
func (h *Handler) Logout(c *gin.Context) {
	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me 返回当前用户资料。
func (h *Handler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.serverError(c, "query user failed", err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// UpdateMe 修改姓名或手机号。手机号用于聊天转发渠道，传空字符串表示清除。
func (h *Handler) UpdateMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var upd store.ProfileUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be 1-100 characters"})
			return
		}
		upd.Name = &name
	}
	if req.Phone != nil {
		phone := normalizePhone(*req.Phone)
		if phone != "" && !phonePattern.MatchString(phone) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
			return
		}
		upd.Phone = &phone
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), userID, upd)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.serverError(c, "update profile failed", err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// DeleteAccount 注销当前账户，连同其任务与提醒。
func (h *Handler) DeleteAccount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.users.Delete(c.Request.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.serverError(c, "delete account failed", err)
		return
	}
	h.setCookie(c, "", -1)
	h.logger.Info("account deleted", slog.Uint64("user_id", uint64(userID)))
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

// ResendVerify 按冷却阶梯重发验证邮件。
func (h *Handler) ResendVerify(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	next, err := h.resender.AttemptResend(c.Request.Context(), email)
	var cd *CooldownError
	switch {
	case err == nil:
		metrics.ResendRequestsTotal.WithLabelValues("sent").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "verification email sent", "next_cooldown": next})
	case errors.Is(err, ErrEmailNotFound):
		metrics.ResendRequestsTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "email not registered"})
	case errors.Is(err, ErrAlreadyActive):
		metrics.ResendRequestsTotal.WithLabelValues("already_active").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "account already active, please login"})
	case errors.As(err, &cd) && cd.Blocked:
		metrics.ResendRequestsTotal.WithLabelValues("blocked").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, please contact support", "blocked": true})
	case cd != nil:
		metrics.ResendRequestsTotal.WithLabelValues("cooldown").Inc()
		c.Header("Retry-After", strconv.Itoa(cd.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       fmt.Sprintf("please wait %d seconds", cd.RetryAfter),
			"retry_after": cd.RetryAfter,
		})
	case errors.Is(err, ErrResendInProgress):
		metrics.ResendRequestsTotal.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "a resend is already in progress"})
	default:
		metrics.ResendRequestsTotal.WithLabelValues("error").Inc()
		h.logger.Warn("resend verification failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send verification email"})
	}
}

func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
}

func (h *Handler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, value, maxAge, "/", "", h.opts.CookieSecure, true)
}

func (h *Handler) issueToken(userID uint) (string, error) {
	now := h.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.opts.TokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.opts.JWTSecret))
}

func currentUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	if !ok || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

func verificationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/verify-email?token=" + url.QueryEscape(token)
}

func newVerificationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomUsername() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("user%d", n.Int64()+100000), nil
}

func normalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
}
