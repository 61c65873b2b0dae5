package api

import (
	"time"

	"github.com/eramirez/carbid/internal/domain/bids"
	"github.com/eramirez/carbid/internal/domain/items"
	"github.com/eramirez/carbid/internal/domain/users"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type registerResponse struct {
	Message  string          `json:"message"`
	User     *users.User     `json:"user"`
	MFASetup *users.MFASetup `json:"mfaSetup"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token,omitempty"`
	MFARequired bool   `json:"mfaRequired,omitempty"`
	TempToken   string `json:"tempToken,omitempty"`
	Username    string `json:"username,omitempty"`
	Role        string `json:"role,omitempty"`
}

type loginMFARequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"mfaToken"`
}

type verifyMFARequest struct {
	Username string `json:"username"`
	Code     string `json:"token"`
}

type recoveryRequest struct {
	Username string `json:"username"`
}

type recoveryResponse struct {
	Message          string                 `json:"message"`
	MethodsAvailable *users.RecoveryMethods `json:"methodsAvailable"`
}

type verifyRecoveryRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type updateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type placeBidRequest struct {
	ItemID string `json:"itemId"`
	Amount string `json:"amount"`
}

type bidResponse struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"itemId"`
	UserID     string    `json:"userId"`
	Amount     string    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	BidderName string    `json:"userName,omitempty"`
}

func mapBid(bid *bids.Bid) bidResponse {
	return bidResponse{
		ID:        bid.ID.String(),
		ItemID:    bid.ItemID,
		UserID:    bid.UserID.String(),
		Amount:    bid.Amount.String(),
		Timestamp: bid.CreatedAt,
	}
}

func mapBidWithBidder(bid *bids.BidWithBidder) bidResponse {
	res := mapBid(&bid.Bid)
	res.BidderName = bid.BidderName
	return res
}

type itemResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Scale       string    `json:"scale"`
	Deadline    time.Time `json:"deadline"`
	Images      []string  `json:"images"`
	PublishedAt time.Time `json:"publishedAt"`
}

func mapItem(item *items.Item, baseURL string) itemResponse {
	images := make([]string, len(item.Images))
	for i, path := range item.Images {
		images[i] = baseURL + path
	}
	return itemResponse{
		ID:          item.ID.String(),
		Name:        item.Name,
		Scale:       item.Scale,
		Deadline:    item.Deadline,
		Images:      images,
		PublishedAt: item.PublishedAt,
	}
}
