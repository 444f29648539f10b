package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productDoc struct {
	ID            string               `bson:"_id"`
	Name          string               `bson:"name"`
	ImageURL      string               `bson:"image_url"`
	Price         primitive.Decimal128 `bson:"price"`
	Stock         int                  `bson:"stock"`
	MinStock      int                  `bson:"min_stock"`
	IsActive      bool                 `bson:"is_active"`
	DistributorID string               `bson:"distributor_id"`
	CreatedAt     time.Time            `bson:"created_at"`
	UpdatedAt     time.Time            `bson:"updated_at"`
}

func (d productDoc) toDomain() (domain.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:            d.ID,
		Name:          d.Name,
		ImageURL:      d.ImageURL,
		Price:         price,
		Stock:         d.Stock,
		MinStock:      d.MinStock,
		IsActive:      d.IsActive,
		DistributorID: d.DistributorID,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}, nil
}

type productRepository struct {
	base
}

func (r *productRepository) coll() *mongo.Collection {
	return r.db.Collection(collProducts)
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var doc productDoc
	if err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.Unavailable("find product", err)
	}
	return doc.toDomain()
}

func (r *productRepository) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	price, err := toDecimal128(p.Price)
	if err != nil {
		return err
	}
	now := r.now()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.coll().UpdateOne(ctx,
		bson.M{"_id": p.ID},
		bson.M{
			"$set": bson.M{
				"name":           p.Name,
				"image_url":      p.ImageURL,
				"price":          price,
				"stock":          p.Stock,
				"min_stock":      p.MinStock,
				"is_active":      p.IsActive,
				"distributor_id": p.DistributorID,
				"updated_at":     now,
			},
			"$setOnInsert": bson.M{"created_at": createdAt},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.Unavailable("upsert product", err)
	}
	return nil
}

// DecrementStock выполняет условный $inc. Документ совпадает с фильтром, только
// если stock >= qty, поэтому остаток не уходит в минус.
func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var doc productDoc
	err := r.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}, "$set": bson.M{"updated_at": r.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Product{}, domain.Unavailable("decrement stock", err)
	}

	if err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.Unavailable("find product", err)
	}
	return domain.Product{}, domain.NewStockError(id, qty, doc.Stock)
}

func (r *productRepository) IncrementStock(ctx context.Context, id string, qty int) (domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var doc productDoc
	err := r.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"stock": qty}, "$set": bson.M{"updated_at": r.now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, domain.Unavailable("increment stock", err)
	}
	return doc.toDomain()
}

func (r *productRepository) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	filter := bson.M{
		"is_active": true,
		"$expr":     bson.M{"$lte": bson.A{"$stock", "$min_stock"}},
	}
	cursor, err := r.coll().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "stock", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, domain.Unavailable("find low stock", err)
	}

	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.Unavailable("decode low stock", err)
	}

	result := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, product)
	}
	return result, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
