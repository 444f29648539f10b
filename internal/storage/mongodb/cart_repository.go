package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartDoc struct {
	ID         string    `bson:"_id"`
	RetailerID string    `bson:"retailer_id"`
	ProductID  string    `bson:"product_id"`
	Quantity   int       `bson:"quantity"`
	AddedAt    time.Time `bson:"added_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d cartDoc) toDomain() domain.CartEntry {
	return domain.CartEntry{
		RetailerID: d.RetailerID,
		ProductID:  d.ProductID,
		Quantity:   d.Quantity,
		AddedAt:    d.AddedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

// cartID: составной ключ (retailer, product) одним значением _id.
func cartID(retailerID, productID string) string {
	return retailerID + "/" + productID
}

type cartRepository struct {
	base
}

func (r *cartRepository) coll() *mongo.Collection {
	return r.db.Collection(collCarts)
}

func (r *cartRepository) Get(ctx context.Context, retailerID, productID string) (domain.CartEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var doc cartDoc
	if err := r.coll().FindOne(ctx, bson.M{"_id": cartID(retailerID, productID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.CartEntry{}, domain.ErrCartItemNotFound
		}
		return domain.CartEntry{}, domain.Unavailable("find cart item", err)
	}
	return doc.toDomain(), nil
}

func (r *cartRepository) Upsert(ctx context.Context, entry domain.CartEntry) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	_, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": cartID(entry.RetailerID, entry.ProductID)},
		bson.M{
			"$set": bson.M{
				"retailer_id": entry.RetailerID,
				"product_id":  entry.ProductID,
				"quantity":    entry.Quantity,
				"updated_at":  entry.UpdatedAt,
			},
			"$setOnInsert": bson.M{"added_at": entry.AddedAt},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.Unavailable("upsert cart item", err)
	}
	return nil
}

func (r *cartRepository) Delete(ctx context.Context, retailerID, productID string) (bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.coll().DeleteOne(ctx, bson.M{"_id": cartID(retailerID, productID)})
	if err != nil {
		return false, domain.Unavailable("delete cart item", err)
	}
	return res.DeletedCount > 0, nil
}

func (r *cartRepository) List(ctx context.Context, retailerID string) ([]domain.CartEntry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	cursor, err := r.coll().Find(ctx,
		bson.M{"retailer_id": retailerID},
		options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}, {Key: "product_id", Value: 1}}),
	)
	if err != nil {
		return nil, domain.Unavailable("find cart items", err)
	}

	var docs []cartDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.Unavailable("decode cart items", err)
	}

	result := make([]domain.CartEntry, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.toDomain())
	}
	return result, nil
}

// Lock обновляет служебный документ корзины в cart_locks. Параллельная
// транзакция, записавшая тот же документ, получает write conflict и
// перезапускается в WithTransaction.
func (r *cartRepository) Lock(ctx context.Context, retailerID string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	_, err := r.db.Collection(collCartLocks).UpdateOne(ctx,
		bson.M{"_id": retailerID},
		bson.M{"$inc": bson.M{"seq": 1}, "$set": bson.M{"locked_at": r.now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return domain.Unavailable("lock cart", err)
	}
	return nil
}

func (r *cartRepository) Clear(ctx context.Context, retailerID string, productIDs []string) (int, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	ids := make([]string, len(productIDs))
	for i, productID := range productIDs {
		ids[i] = cartID(retailerID, productID)
	}
	res, err := r.coll().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, domain.Unavailable("clear cart", err)
	}
	return int(res.DeletedCount), nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
