package auth

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// RegisterAuthRoutes mounts the JSON API. Token issuance and the secret
// token flows are public; everything else requires a bearer access token,
// and user administration additionally requires a superuser.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController, guard *HTTPAuthMiddleware) {
	authGroup := app.Group("/auth")
	authGroup.Post("/register", controller.Register)
	authGroup.Post("/login", controller.Login)
	authGroup.Post("/refresh", controller.Refresh)
	authGroup.Post("/verify-email", controller.VerifyEmail)
	authGroup.Post("/verify-email/request", guard.RequireAuth(), controller.VerifyEmailRequest)
	authGroup.Post("/password-reset", controller.PasswordReset)
	authGroup.Post("/password-reset/confirm", controller.PasswordResetConfirm)
	authGroup.Post("/logout", guard.RequireAuth(), controller.Logout)
	authGroup.Post("/change-password", guard.RequireAuth(), controller.ChangePassword)

	users := app.Group("/users", guard.RequireAuth())
	users.Get("/me", controller.Me)
	users.Put("/me", controller.UpdateMe)
	users.Get("/", guard.RequireSuperuser(), controller.ListUsers)
	users.Post("/", guard.RequireSuperuser(), controller.CreateUser)
	users.Get("/:id", guard.RequireSuperuser(), controller.GetUser)
	users.Put("/:id", guard.RequireSuperuser(), controller.UpdateUser)
	users.Delete("/:id", guard.RequireSuperuser(), controller.DeleteUser)
	users.Post("/:id/deactivate", guard.RequireSuperuser(), controller.DeactivateUser)
	users.Post("/:id/reactivate", guard.RequireSuperuser(), controller.ReactivateUser)
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       Authenticator
	StateMachine UserStateMachine
	Mailer       Mailer
	ActivitySink ActivitySink
	Config       Config
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuthenticator(auther Authenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerStateMachine(sm UserStateMachine) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.StateMachine = sm
		return c
	}
}

func WithControllerMailer(m Mailer) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Mailer = normalizeMailer(m)
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Config = cfg
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Mailer:       NewLogMailer(nil),
		ActivitySink: noopActivitySink{},
		Config:       BaseConfig{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	if c.StateMachine == nil {
		c.StateMachine = NewUserStateMachine(c.Repo.Users(),
			WithStateMachineActivitySink(c.ActivitySink),
			WithStateMachineLogger(c.Logger),
		)
	}

	return c
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := new(LoginRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	pair, err := a.Auther.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(pair)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) Refresh(c *fiber.Ctx) error {
	payload := new(RefreshRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	pair, err := a.Auther.Refresh(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(pair)
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	user, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	if err := a.Auther.Logout(c.UserContext(), user.ID.String()); err != nil {
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// RegisterRequest payload
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *RegisterUserResponse
	req := RegisterUserMessage{
		Email:    payload.Email,
		Password: payload.Password,
		FullName: payload.FullName,
		OnResponse: func(resp *RegisterUserResponse) {
			res = resp
		},
	}

	registerUser := NewRegisterUserHandler(a.Repo).
		WithMailer(a.Mailer).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger).
		WithVerificationTokenTTL(a.Config.GetVerificationTokenTTL()).
		WithBcryptCost(a.Config.GetBcryptCost())

	if err := registerUser.Execute(c.UserContext(), req); err != nil {
		a.Logger.Error("register user error: %v", err)
		return RenderError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(res.User.View())
}

// VerifyEmailRequest payload
type VerifyEmailPayload struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r VerifyEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (a *AuthController) VerifyEmail(c *fiber.Ctx) error {
	payload := new(VerifyEmailPayload)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	req := FinalizeEmailVerificationMessage{Token: payload.Token}

	verifyEmail := NewFinalizeEmailVerificationHandler(a.Repo).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := verifyEmail.Execute(c.UserContext(), req); err != nil {
		return RenderError(c, err)
	}

	// the caller only holds a verification token, so the response carries no
	// account fields
	return c.JSON(fiber.Map{"success": true})
}

func (a *AuthController) VerifyEmailRequest(c *fiber.Ctx) error {
	user, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	req := RequestEmailVerificationMessage{UserID: user.ID}

	requestVerify := NewRequestEmailVerificationHandler(a.Repo).
		WithMailer(a.Mailer).
		WithLogger(a.Logger).
		WithVerificationTokenTTL(a.Config.GetVerificationTokenTTL())

	if err := requestVerify.Execute(c.UserContext(), req); err != nil {
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// PasswordResetRequest payload
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// PasswordReset acknowledges every well formed request the same way,
// whether or not the email matches an account.
func (a *AuthController) PasswordReset(c *fiber.Ctx) error {
	payload := new(PasswordResetRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	req := InitializePasswordResetMessage{Email: payload.Email}

	initReset := NewInitializePasswordResetHandler(a.Repo).
		WithMailer(a.Mailer).
		WithLogger(a.Logger).
		WithResetTokenTTL(a.Config.GetPasswordResetTokenTTL())

	if err := initReset.Execute(c.UserContext(), req); err != nil {
		a.Logger.Error("password reset init error: %v", err)
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// PasswordResetConfirmRequest payload
type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r PasswordResetConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) PasswordResetConfirm(c *fiber.Ctx) error {
	payload := new(PasswordResetConfirmRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	req := FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.Password,
	}

	finalizeReset := NewFinalizePasswordResetHandler(a.Repo).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger).
		WithBcryptCost(a.Config.GetBcryptCost())

	if err := finalizeReset.Execute(c.UserContext(), req); err != nil {
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"success": true})
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 100)),
	)
}

func (a *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	payload := new(ChangePasswordRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	var res *ChangePasswordResponse
	req := ChangePasswordMessage{
		UserID:          user.ID,
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
		OnResponse: func(resp *ChangePasswordResponse) {
			res = resp
		},
	}

	changePassword := NewChangePasswordHandler(a.Repo).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger).
		WithBcryptCost(a.Config.GetBcryptCost())

	if err := changePassword.Execute(c.UserContext(), req); err != nil {
		return RenderError(c, err)
	}

	return c.JSON(fiber.Map{"changed": res.Changed})
}

func (a *AuthController) Me(c *fiber.Ctx) error {
	user, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	return c.JSON(user.View())
}

// UpdateMeRequest payload. Self updates cannot grant superuser or flip
// activity flags.
type UpdateMeRequest struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

// Validate will run validation rules
func (r UpdateMeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.FullName, validation.Length(0, 200)),
		validation.Field(&r.Password, validation.Length(8, 100)),
	)
}

func (a *AuthController) UpdateMe(c *fiber.Ctx) error {
	user, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	payload := new(UpdateMeRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	if payload.Email != nil {
		user.Email = *payload.Email
	}

	if payload.FullName != nil {
		user.FullName = *payload.FullName
	}

	updated, err := a.Repo.Users().Update(c.UserContext(), user)
	if err != nil {
		return RenderError(c, err)
	}

	if payload.Password != nil {
		hash, err := HashPasswordCost(*payload.Password, a.Config.GetBcryptCost())
		if err != nil {
			return RenderError(c, err)
		}
		if err := a.Repo.Users().UpdatePassword(c.UserContext(), user.ID, hash); err != nil {
			return RenderError(c, err)
		}
	}

	return c.JSON(updated.View())
}

func (a *AuthController) ListUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)

	records, err := a.Repo.Users().List(c.UserContext(), limit, offset)
	if err != nil {
		return RenderError(c, err)
	}

	views := make([]UserView, 0, len(records))
	for _, record := range records {
		views = append(views, record.View())
	}

	return c.JSON(fiber.Map{
		"items": views,
		"count": len(views),
	})
}

// CreateUserRequest is the admin facing create payload. Unlike self
// registration it can mint verified accounts and superusers directly.
type CreateUserRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	IsSuperuser   bool   `json:"is_superuser"`
	EmailVerified bool   `json:"is_email_verified"`
}

// Validate will run validation rules
func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

func (a *AuthController) CreateUser(c *fiber.Ctx) error {
	payload := new(CreateUserRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	hash, err := HashPasswordCost(payload.Password, a.Config.GetBcryptCost())
	if err != nil {
		return RenderError(c, err)
	}

	user := &User{
		Email:         payload.Email,
		PasswordHash:  hash,
		FullName:      payload.FullName,
		IsActive:      true,
		IsSuperuser:   payload.IsSuperuser,
		EmailVerified: payload.EmailVerified,
	}

	created, err := a.Repo.Users().Create(c.UserContext(), user)
	if err != nil {
		return RenderError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created.View())
}

func (a *AuthController) GetUser(c *fiber.Ctx) error {
	id, err := paramUUID(c, "id")
	if err != nil {
		return RenderError(c, err)
	}

	user, err := a.Repo.Users().GetByID(c.UserContext(), id)
	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(user.View())
}

// UpdateUserRequest is the admin facing update payload. Absent fields are
// left untouched; is_active changes route through the lifecycle machine.
type UpdateUserRequest struct {
	Email       *string `json:"email"`
	FullName    *string `json:"full_name"`
	Password    *string `json:"password"`
	IsSuperuser *bool   `json:"is_superuser"`
	IsActive    *bool   `json:"is_active"`
}

// Validate will run validation rules
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.FullName, validation.Length(0, 200)),
		validation.Field(&r.Password, validation.Length(8, 100)),
	)
}

func (a *AuthController) UpdateUser(c *fiber.Ctx) error {
	actor, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return RenderError(c, err)
	}

	payload := new(UpdateUserRequest)

	if err := c.BodyParser(payload); err != nil {
		return a.renderBadBody(c, err)
	}

	if err := payload.Validate(); err != nil {
		return renderValidationError(c, err)
	}

	user, err := a.Repo.Users().GetByID(c.UserContext(), id)
	if err != nil {
		return RenderError(c, err)
	}

	if payload.Email != nil || payload.FullName != nil {
		if payload.Email != nil {
			user.Email = *payload.Email
		}
		if payload.FullName != nil {
			user.FullName = *payload.FullName
		}
		if user, err = a.Repo.Users().Update(c.UserContext(), user); err != nil {
			return RenderError(c, err)
		}
	}

	if payload.Password != nil {
		hash, err := HashPasswordCost(*payload.Password, a.Config.GetBcryptCost())
		if err != nil {
			return RenderError(c, err)
		}
		if err := a.Repo.Users().UpdatePassword(c.UserContext(), id, hash); err != nil {
			return RenderError(c, err)
		}
	}

	if payload.IsSuperuser != nil && *payload.IsSuperuser != user.IsSuperuser {
		if user, err = a.Repo.Users().SetSuperuser(c.UserContext(), id, *payload.IsSuperuser); err != nil {
			return RenderError(c, err)
		}
	}

	if payload.IsActive != nil && *payload.IsActive != user.IsActive {
		actorRef := ActorRef{ID: actor.ID.String(), Type: "user"}
		if *payload.IsActive {
			user, err = a.StateMachine.Reactivate(c.UserContext(), actorRef, id)
		} else {
			user, err = a.StateMachine.Deactivate(c.UserContext(), actorRef, id)
		}
		if err != nil {
			return RenderError(c, err)
		}
	}

	return c.JSON(user.View())
}

func (a *AuthController) DeleteUser(c *fiber.Ctx) error {
	actor, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return RenderError(c, err)
	}

	actorRef := ActorRef{ID: actor.ID.String(), Type: "user"}
	if err := a.StateMachine.Delete(c.UserContext(), actorRef, id); err != nil {
		return RenderError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *AuthController) DeactivateUser(c *fiber.Ctx) error {
	return a.setUserActive(c, false)
}

func (a *AuthController) ReactivateUser(c *fiber.Ctx) error {
	return a.setUserActive(c, true)
}

func (a *AuthController) setUserActive(c *fiber.Ctx, active bool) error {
	actor, ok := UserFromContext(c)
	if !ok {
		return RenderError(c, ErrInvalidCredentials)
	}

	id, err := paramUUID(c, "id")
	if err != nil {
		return RenderError(c, err)
	}

	actorRef := ActorRef{ID: actor.ID.String(), Type: "user"}

	var user *User
	if active {
		user, err = a.StateMachine.Reactivate(c.UserContext(), actorRef, id)
	} else {
		user, err = a.StateMachine.Deactivate(c.UserContext(), actorRef, id)
	}

	if err != nil {
		return RenderError(c, err)
	}

	return c.JSON(user.View())
}

func (a *AuthController) renderBadBody(c *fiber.Ctx, err error) error {
	a.Logger.Error("failed to parse request body: %v", err)
	return RenderError(c, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse request body").
		WithCode(goerrors.CodeBadRequest))
}

func renderValidationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": fiber.Map{
			"message":   "validation failed",
			"text_code": "VALIDATION_ERROR",
			"fields":    FormatValidationErrorToMap(err),
		},
	})
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field/message map.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	if errs, ok := err.(validation.Errors); ok {
		for field, ferr := range errs {
			out[field] = ferr.Error()
		}
		return out
	}

	if err != nil {
		out["payload"] = err.Error()
	}

	return out
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid user id").
			WithCode(goerrors.CodeBadRequest)
	}
	return id, nil
}
