package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/model"
	"github.com/sakif/strategy-hub/internal/repository"
)

var _ repository.StrategyRepository = (*StrategyStore)(nil)

// StrategyStore implements repository.StrategyRepository. users is needed to
// populate creator and comment author references and to drop favorites when
// a strategy is deleted.
type StrategyStore struct {
	col   *mongo.Collection
	users *mongo.Collection
}

type commentDoc struct {
	ID        string    `bson:"id"`
	User      string    `bson:"user"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"createdAt"`
}

type ratingDoc struct {
	User      string    `bson:"user"`
	Rating    int       `bson:"rating"`
	CreatedAt time.Time `bson:"createdAt"`
}

type strategyDoc struct {
	ID                  string         `bson:"_id"`
	Name                string         `bson:"name"`
	Description         string         `bson:"description"`
	Parameters          map[string]any `bson:"parameters"`
	RiskLevel           string         `bson:"riskLevel"`
	AssetClass          string         `bson:"assetClass"`
	BacktestPerformance string         `bson:"backtestPerformance"`
	CreatedBy           string         `bson:"createdBy"`
	IsPublic            bool           `bson:"isPublic"`
	IsTemplate          bool           `bson:"isTemplate"`
	Tags                []string       `bson:"tags"`
	CopiedFrom          string         `bson:"copiedFrom,omitempty"`
	CopyCount           int            `bson:"copyCount"`
	Comments            []commentDoc   `bson:"comments"`
	Ratings             []ratingDoc    `bson:"ratings"`
	AverageRating       float64        `bson:"averageRating"`
	CreatedAt           time.Time      `bson:"createdAt"`
	UpdatedAt           time.Time      `bson:"updatedAt"`
}

func (s *StrategyStore) Create(ctx context.Context, st *model.Strategy) error {
	now := time.Now().UTC()
	st.ID = xid.New().String()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Comments = []model.Comment{}
	st.Ratings = []model.Rating{}
	st.AverageRating = 0
	if st.Parameters == nil {
		st.Parameters = map[string]any{}
	}
	if st.Tags == nil {
		st.Tags = []string{}
	}

	doc := strategyDoc{
		ID:                  st.ID,
		Name:                st.Name,
		Description:         st.Description,
		Parameters:          st.Parameters,
		RiskLevel:           st.RiskLevel,
		AssetClass:          st.AssetClass,
		BacktestPerformance: st.BacktestPerformance,
		CreatedBy:           st.CreatedBy.ID,
		IsPublic:            st.IsPublic,
		IsTemplate:          st.IsTemplate,
		Tags:                st.Tags,
		CopiedFrom:          st.CopiedFrom,
		CopyCount:           st.CopyCount,
		Comments:            []commentDoc{},
		Ratings:             []ratingDoc{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo: inserting strategy: %w", err)
	}
	return nil
}

func (s *StrategyStore) GetByID(ctx context.Context, id string) (*model.Strategy, error) {
	var doc strategyDoc
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("strategy", id)
		}
		return nil, fmt.Errorf("mongo: getting strategy %s: %w", id, err)
	}
	list, err := s.populate(ctx, []strategyDoc{doc})
	if err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *StrategyStore) List(ctx context.Context, filter repository.StrategyFilter) ([]model.Strategy, error) {
	var query bson.M
	switch {
	case filter.TemplatesOnly:
		query = bson.M{"isTemplate": true}
	case filter.IDs != nil:
		if len(filter.IDs) == 0 {
			return []model.Strategy{}, nil
		}
		query = bson.M{"_id": bson.M{"$in": filter.IDs}}
	case filter.OwnerOrPublic != "":
		query = bson.M{"$or": bson.A{
			bson.M{"createdBy": filter.OwnerOrPublic},
			bson.M{"isPublic": true},
		}}
	default:
		query = bson.M{"isPublic": true}
	}

	// xid strings sort by creation time, so _id breaks createdAt ties.
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.col.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing strategies: %w", err)
	}
	defer cur.Close(ctx)

	var docs []strategyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decoding strategies: %w", err)
	}
	return s.populate(ctx, docs)
}

func (s *StrategyStore) Update(ctx context.Context, st *model.Strategy) error {
	st.UpdatedAt = time.Now().UTC()
	params := st.Parameters
	if params == nil {
		params = map[string]any{}
	}
	tags := st.Tags
	if tags == nil {
		tags = []string{}
	}

	result, err := s.col.UpdateByID(ctx, st.ID, bson.M{"$set": bson.M{
		"name":                st.Name,
		"description":         st.Description,
		"parameters":          params,
		"riskLevel":           st.RiskLevel,
		"assetClass":          st.AssetClass,
		"backtestPerformance": st.BacktestPerformance,
		"isPublic":            st.IsPublic,
		"isTemplate":          st.IsTemplate,
		"tags":                tags,
		"updatedAt":           st.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("mongo: updating strategy %s: %w", st.ID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("strategy", st.ID)
	}
	return nil
}

// Delete removes the strategy and pulls it from every user's favorites.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	result, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: deleting strategy %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("strategy", id)
	}
	if _, err := s.users.UpdateMany(ctx,
		bson.M{"favorites": id},
		bson.M{"$pull": bson.M{"favorites": id}},
	); err != nil {
		return fmt.Errorf("mongo: removing %s from favorites: %w", id, err)
	}
	return nil
}

func (s *StrategyStore) FindCopy(ctx context.Context, ownerID, sourceID string) (*model.Strategy, error) {
	var doc strategyDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	err := s.col.FindOne(ctx, bson.M{"createdBy": ownerID, "copiedFrom": sourceID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("copy", sourceID)
		}
		return nil, fmt.Errorf("mongo: finding copy of %s: %w", sourceID, err)
	}
	list, err := s.populate(ctx, []strategyDoc{doc})
	if err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *StrategyStore) IncrementCopyCount(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.M{"$inc": bson.M{"copyCount": 1}})
}

func (s *StrategyStore) SaveRatings(ctx context.Context, id string, ratings []model.Rating, average float64) error {
	docs := make([]ratingDoc, 0, len(ratings))
	for _, r := range ratings {
		docs = append(docs, ratingDoc{User: r.UserID, Rating: r.Rating, CreatedAt: r.CreatedAt.UTC()})
	}
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{
		"ratings":       docs,
		"averageRating": average,
	}})
}

func (s *StrategyStore) AddComment(ctx context.Context, strategyID string, c *model.Comment) error {
	return s.updateOne(ctx, strategyID, bson.M{"$push": bson.M{"comments": commentDoc{
		ID:        c.ID,
		User:      c.User.ID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt.UTC(),
	}}})
}

func (s *StrategyStore) DeleteComment(ctx context.Context, strategyID, commentID string) error {
	result, err := s.col.UpdateOne(ctx,
		bson.M{"_id": strategyID, "comments.id": commentID},
		bson.M{"$pull": bson.M{"comments": bson.M{"id": commentID}}},
	)
	if err != nil {
		return fmt.Errorf("mongo: deleting comment %s: %w", commentID, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("comment", commentID)
	}
	return nil
}

func (s *StrategyStore) updateOne(ctx context.Context, id string, update bson.M) error {
	result, err := s.col.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("mongo: updating strategy %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("strategy", id)
	}
	return nil
}

// populate converts documents to models, resolving creator and comment
// author IDs to name and email with a single users query.
func (s *StrategyStore) populate(ctx context.Context, docs []strategyDoc) ([]model.Strategy, error) {
	out := make([]model.Strategy, 0, len(docs))
	if len(docs) == 0 {
		return out, nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, d := range docs {
		add(d.CreatedBy)
		for _, c := range d.Comments {
			add(c.User)
		}
	}

	opts := options.Find().SetProjection(bson.M{"name": 1, "email": 1})
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: loading user refs: %w", err)
	}
	var refs []struct {
		ID    string `bson:"_id"`
		Name  string `bson:"name"`
		Email string `bson:"email"`
	}
	if err := cur.All(ctx, &refs); err != nil {
		return nil, fmt.Errorf("mongo: decoding user refs: %w", err)
	}
	byID := make(map[string]model.UserRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = model.UserRef{ID: r.ID, Name: r.Name, Email: r.Email}
	}
	ref := func(id string) model.UserRef {
		if r, ok := byID[id]; ok {
			return r
		}
		return model.UserRef{ID: id}
	}

	for _, d := range docs {
		st := model.Strategy{
			ID:                  d.ID,
			Name:                d.Name,
			Description:         d.Description,
			Parameters:          d.Parameters,
			RiskLevel:           d.RiskLevel,
			AssetClass:          d.AssetClass,
			BacktestPerformance: d.BacktestPerformance,
			CreatedBy:           ref(d.CreatedBy),
			IsPublic:            d.IsPublic,
			IsTemplate:          d.IsTemplate,
			Tags:                d.Tags,
			CopiedFrom:          d.CopiedFrom,
			CopyCount:           d.CopyCount,
			Comments:            make([]model.Comment, 0, len(d.Comments)),
			Ratings:             make([]model.Rating, 0, len(d.Ratings)),
			AverageRating:       d.AverageRating,
			CreatedAt:           d.CreatedAt,
			UpdatedAt:           d.UpdatedAt,
		}
		if st.Parameters == nil {
			st.Parameters = map[string]any{}
		}
		if st.Tags == nil {
			st.Tags = []string{}
		}
		for _, c := range d.Comments {
			st.Comments = append(st.Comments, model.Comment{
				ID: c.ID, User: ref(c.User), Text: c.Text, CreatedAt: c.CreatedAt,
			})
		}
		for _, r := range d.Ratings {
			st.Ratings = append(st.Ratings, model.Rating{
				UserID: r.User, Rating: r.Rating, CreatedAt: r.CreatedAt,
			})
		}
		out = append(out, st)
	}
	return out, nil
}
