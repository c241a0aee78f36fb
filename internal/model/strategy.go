package model

import "time"

// Allowed enum values. The order matters only for error messages.
var (
	RiskLevels   = []string{"Low", "Medium", "High", "Very High"}
	AssetClasses = []string{"Stocks", "Crypto", "Forex", "Futures", "Options"}
)

const (
	DefaultRiskLevel  = "Medium"
	DefaultAssetClass = "Stocks"
)

// UserRef is the slice of a User embedded in strategy responses.
// ID is always set; Name and Email are filled when the store resolves them.
type UserRef struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Comment is owned by its Strategy. ID is assigned when the comment is
// appended and never changes, so deletes address it directly.
type Comment struct {
	ID        string    `json:"_id"`
	User      UserRef   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Rating is one user's score for a Strategy. There is at most one per user.
type Rating struct {
	UserID    string    `json:"user"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
}

// Strategy is a trading strategy record together with its comments and ratings.
type Strategy struct {
	ID                  string         `json:"_id"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Parameters          map[string]any `json:"parameters"`
	RiskLevel           string         `json:"riskLevel"`
	AssetClass          string         `json:"assetClass"`
	BacktestPerformance string         `json:"backtestPerformance"`
	CreatedBy           UserRef        `json:"createdBy"`
	IsPublic            bool           `json:"isPublic"`
	IsTemplate          bool           `json:"isTemplate"`
	Tags                []string       `json:"tags"`
	CopiedFrom          string         `json:"copiedFrom,omitempty"`
	CopyCount           int            `json:"copyCount"`
	Comments            []Comment      `json:"comments"`
	Ratings             []Rating       `json:"ratings"`
	AverageRating       float64        `json:"averageRating"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func (s *Strategy) OwnedBy(userID string) bool {
	return userID != "" && s.CreatedBy.ID == userID
}

// ApplyRating records userID's score, replacing any earlier one in place,
// and recomputes AverageRating before returning.
func (s *Strategy) ApplyRating(userID string, value int, at time.Time) {
	replaced := false
	for i := range s.Ratings {
		if s.Ratings[i].UserID == userID {
			s.Ratings[i].Rating = value
			s.Ratings[i].CreatedAt = at
			replaced = true
			break
		}
	}
	if !replaced {
		s.Ratings = append(s.Ratings, Rating{UserID: userID, Rating: value, CreatedAt: at})
	}
	s.AverageRating = MeanRating(s.Ratings)
}

// UserRating returns userID's score, or 0 if they have not rated.
func (s *Strategy) UserRating(userID string) int {
	if userID == "" {
		return 0
	}
	for _, r := range s.Ratings {
		if r.UserID == userID {
			return r.Rating
		}
	}
	return 0
}

// FindComment returns the comment with the given ID, or nil.
func (s *Strategy) FindComment(id string) *Comment {
	for i := range s.Comments {
		if s.Comments[i].ID == id {
			return &s.Comments[i]
		}
	}
	return nil
}

// MeanRating is the arithmetic mean of the values, 0 when empty. Not rounded.
func MeanRating(ratings []Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Rating
	}
	return float64(sum) / float64(len(ratings))
}
