package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eramirez/carbid/internal/domain/bids"
	"github.com/eramirez/carbid/internal/domain/items"
	"github.com/eramirez/carbid/internal/domain/users"
	"github.com/eramirez/carbid/internal/metrics"
	"github.com/eramirez/carbid/pkg/auth"
)

const maxItemImages = 10

// BidEngine is the slice of the bid engine the handlers need.
type BidEngine interface {
	Latest(ctx context.Context, itemID string) (*bids.Bid, error)
	History(ctx context.Context, itemID string) ([]*bids.BidWithBidder, error)
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.BidWithBidder, error)
}

// UserService is the slice of the identity service the handlers need.
type UserService interface {
	Register(ctx context.Context, cmd users.RegisterCommand) (*users.User, *users.MFASetup, error)
	Login(ctx context.Context, username, password string) (*users.LoginResult, error)
	LoginMFA(ctx context.Context, tempToken, code string) (*users.LoginResult, error)
	VerifyMFA(ctx context.Context, username, code string) error
	RequestRecovery(ctx context.Context, username string) (*users.RecoveryMethods, error)
	VerifyRecovery(ctx context.Context, username, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	GetUser(ctx context.Context, id uuid.UUID) (*users.User, error)
	ListUsers(ctx context.Context) ([]*users.User, error)
	UpdateProfile(ctx context.Context, cmd users.UpdateProfileCommand) error
}

// ItemService is the slice of the catalog the handlers need.
type ItemService interface {
	Register(ctx context.Context, cmd items.RegisterItemCommand) (*items.Item, error)
	ListByScale(ctx context.Context, scale string) ([]*items.Item, error)
}

// TempImageSaver stores an uploaded file until the item it belongs to exists.
type TempImageSaver interface {
	SaveTemp(filename string, r io.Reader) (string, error)
}

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	logger        *slog.Logger
	bids          BidEngine
	users         UserService
	items         ItemService
	images        TempImageSaver
	signer        *auth.Signer
	publicBaseURL string
}

func NewHandler(
	logger *slog.Logger,
	bidEngine BidEngine,
	userService UserService,
	itemService ItemService,
	images TempImageSaver,
	signer *auth.Signer,
	publicBaseURL string,
) *Handler {
	return &Handler{
		logger:        logger,
		bids:          bidEngine,
		users:         userService,
		items:         itemService,
		images:        images,
		signer:        signer,
		publicBaseURL: publicBaseURL,
	}
}

// Routes registers all API routes on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.HandleFunc("POST /api/auth/login/mfa", h.loginMFA)
	mux.HandleFunc("POST /api/auth/mfa/verify", h.verifyMFA)
	mux.HandleFunc("POST /api/auth/recovery/request", h.requestRecovery)
	mux.HandleFunc("POST /api/auth/recovery/verify", h.verifyRecovery)
	mux.HandleFunc("POST /api/auth/password/reset", h.resetPassword)

	mux.Handle("GET /api/users", h.authed(h.listUsers))
	mux.Handle("GET /api/users/{id}", h.authed(h.getUser))
	mux.Handle("PUT /api/users/{id}", h.authed(h.updateProfile))

	mux.Handle("POST /api/collectibles", h.authed(h.registerItem))
	mux.HandleFunc("GET /api/collectibles", h.listItems)

	mux.HandleFunc("GET /api/bids/{itemId}/latest", h.latestBid)
	mux.HandleFunc("GET /api/bids/{itemId}", h.listBids)
	mux.Handle("POST /api/bids", h.authed(h.placeBid))
}

func (h *Handler) authed(fn http.HandlerFunc) http.Handler {
	return auth.RequireAuth(h.signer, fn)
}

// --- bids ---

func (h *Handler) latestBid(w http.ResponseWriter, r *http.Request) {
	bid, err := h.bids.Latest(r.Context(), r.PathValue("itemId"))
	if err != nil {
		switch {
		case errors.Is(err, bids.ErrNoBids):
			writeError(w, http.StatusNotFound, "no bids registered for this item")
		case errors.Is(err, bids.ErrMissingFields):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, mapBid(bid))
}

func (h *Handler) listBids(w http.ResponseWriter, r *http.Request) {
	history, err := h.bids.History(r.Context(), r.PathValue("itemId"))
	if err != nil {
		if errors.Is(err, bids.ErrMissingFields) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}

	res := make([]bidResponse, len(history))
	for i, bid := range history {
		res[i] = mapBidWithBidder(bid)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id in token")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bid, err := h.bids.PlaceBid(r.Context(), bids.PlaceBidCommand{
		ItemID: req.ItemID,
		UserID: userID,
		Amount: req.Amount,
	})
	if err != nil {
		var tooLow *bids.BidTooLowError
		switch {
		case errors.Is(err, bids.ErrMissingFields):
			metrics.BidsRejected.WithLabelValues("missing_fields").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, bids.ErrInvalidAmount):
			metrics.BidsRejected.WithLabelValues("invalid_amount").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &tooLow):
			metrics.BidsRejected.WithLabelValues("bid_too_low").Inc()
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"message":     tooLow.Error(),
				"minRequired": tooLow.MinRequired.String(),
			})
		default:
			metrics.BidsRejected.WithLabelValues("internal").Inc()
			h.serverError(w, r, err)
		}
		return
	}

	metrics.BidsAdmitted.Inc()
	writeJSON(w, http.StatusCreated, mapBidWithBidder(bid))
}

// --- auth ---

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	user, setup, err := h.users.Register(r.Context(), users.RegisterCommand{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, users.ErrUserAlreadyExists), errors.Is(err, users.ErrEmailAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Message:  "user registered successfully",
		User:     user,
		MFASetup: setup,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, loginResponse{MFARequired: true, TempToken: result.TempToken})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    result.AccessToken,
		Username: result.User.Username,
		Role:     result.User.Role,
	})
}

func (h *Handler) loginMFA(w http.ResponseWriter, r *http.Request) {
	var req loginMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.users.LoginMFA(r.Context(), req.TempToken, req.Code)
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:    result.AccessToken,
		Username: result.User.Username,
		Role:     result.User.Role,
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, users.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrInvalidCredentials),
		errors.Is(err, users.ErrInvalidMFACode),
		errors.Is(err, users.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.users.VerifyMFA(r.Context(), req.Username, req.Code); err != nil {
		switch {
		case errors.Is(err, users.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, users.ErrMFANotConfigured):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, users.ErrInvalidMFACode):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "mfa verified successfully"})
}

func (h *Handler) requestRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	methods, err := h.users.RequestRecovery(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryResponse{
		Message:          "a recovery code has been sent",
		MethodsAvailable: methods,
	})
}

func (h *Handler) verifyRecovery(w http.ResponseWriter, r *http.Request) {
	var req verifyRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.users.VerifyRecovery(r.Context(), req.Username, req.Token); err != nil {
		switch {
		case errors.Is(err, users.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, users.ErrInvalidRecovery):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "recovery code verified"})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.users.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, users.ErrInvalidRecovery), errors.Is(err, users.ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "invalid or expired recovery code")
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed successfully"})
}

// --- users ---

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetUserClaims(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	callerID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid user id in token")
		return
	}

	targetID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err = h.users.UpdateProfile(r.Context(), users.UpdateProfileCommand{
		UserID:   targetID,
		CallerID: callerID,
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrForbidden):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, users.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, users.ErrUserAlreadyExists), errors.Is(err, users.ErrEmailAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, users.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "profile updated successfully"})
}

// --- collectibles ---

func (h *Handler) registerItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	deadline, err := time.Parse(time.RFC3339, r.FormValue("deadline"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "deadline must be RFC3339")
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) > maxItemImages {
		writeError(w, http.StatusBadRequest, "too many images")
		return
	}

	tempPaths := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable image upload")
			return
		}
		path, saveErr := h.images.SaveTemp(fh.Filename, f)
		f.Close()
		if saveErr != nil {
			h.serverError(w, r, saveErr)
			return
		}
		tempPaths = append(tempPaths, path)
	}

	item, err := h.items.Register(r.Context(), items.RegisterItemCommand{
		Name:       r.FormValue("name"),
		Scale:      r.FormValue("scale"),
		Deadline:   deadline,
		TempImages: tempPaths,
	})
	if err != nil {
		switch {
		case errors.Is(err, items.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, items.ErrItemAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, mapItem(item, h.publicBaseURL))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	list, err := h.items.ListByScale(r.Context(), r.URL.Query().Get("scale"))
	if err != nil {
		if errors.Is(err, items.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}

	res := make([]itemResponse, len(list))
	for i, item := range list {
		res[i] = mapItem(item, h.publicBaseURL)
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
