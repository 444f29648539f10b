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

type orderItemDoc struct {
	ProductID   string               `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
	Total       primitive.Decimal128 `bson:"total"`
}

type statusChangeDoc struct {
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	Note      string    `bson:"note"`
}

type orderDoc struct {
	ID              string               `bson:"_id"`
	Code            string               `bson:"order_code"`
	RetailerID      string               `bson:"retailer_id"`
	Items           []orderItemDoc       `bson:"items"`
	TotalAmount     primitive.Decimal128 `bson:"total_amount"`
	Status          string               `bson:"status"`
	StatusHistory   []statusChangeDoc    `bson:"status_history"`
	TrackingNumber  string               `bson:"tracking_number"`
	PaymentStatus   string               `bson:"payment_status"`
	PaymentMethod   string               `bson:"payment_method"`
	DeliveryAddress string               `bson:"delivery_address"`
	Version         int64                `bson:"version"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func historyDocs(history []domain.StatusChange) []statusChangeDoc {
	docs := make([]statusChangeDoc, 0, len(history))
	for _, change := range history {
		docs = append(docs, statusChangeDoc{
			Status:    string(change.Status),
			Timestamp: change.Timestamp.UTC(),
			Note:      change.Note,
		})
	}
	return docs
}

func newOrderDoc(order domain.Order) (orderDoc, error) {
	total, err := toDecimal128(order.TotalAmount)
	if err != nil {
		return orderDoc{}, err
	}

	items := make([]orderItemDoc, 0, len(order.Items))
	for _, item := range order.Items {
		unit, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		lineTotal, err := toDecimal128(item.Total)
		if err != nil {
			return orderDoc{}, err
		}
		items = append(items, orderItemDoc{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   unit,
			Total:       lineTotal,
		})
	}

	return orderDoc{
		ID:              order.ID,
		Code:            order.Code,
		RetailerID:      order.RetailerID,
		Items:           items,
		TotalAmount:     total,
		Status:          string(order.Status),
		StatusHistory:   historyDocs(order.StatusHistory),
		TrackingNumber:  order.TrackingNumber,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		DeliveryAddress: order.DeliveryAddress,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}, nil
}

func (d orderDoc) toDomain() (domain.Order, error) {
	total, err := fromDecimal128(d.TotalAmount)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              d.ID,
		Code:            d.Code,
		RetailerID:      d.RetailerID,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		TotalAmount:     total,
		Status:          domain.OrderStatus(d.Status),
		StatusHistory:   make([]domain.StatusChange, 0, len(d.StatusHistory)),
		TrackingNumber:  d.TrackingNumber,
		PaymentStatus:   d.PaymentStatus,
		PaymentMethod:   d.PaymentMethod,
		DeliveryAddress: d.DeliveryAddress,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		unit, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		lineTotal, err := fromDecimal128(item.Total)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   unit,
			Total:       lineTotal,
		})
	}
	for _, change := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
			Status:    domain.OrderStatus(change.Status),
			Timestamp: change.Timestamp.UTC(),
			Note:      change.Note,
		})
	}
	return order, nil
}

type orderRepository struct {
	base
}

func (r *orderRepository) coll() *mongo.Collection {
	return r.db.Collection(collOrders)
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	doc, err := newOrderDoc(order)
	if err != nil {
		return err
	}
	if _, err := r.coll().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrOrderConflict
		}
		return domain.Unavailable("insert order", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *orderRepository) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	return r.findOne(ctx, bson.M{"order_code": code})
}

func (r *orderRepository) findOne(ctx context.Context, filter bson.M) (domain.Order, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	var doc orderDoc
	if err := r.coll().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.Unavailable("find order", err)
	}
	return doc.toDomain()
}

func (r *orderRepository) ListByRetailer(ctx context.Context, retailerID string, offset, limit int) ([]domain.Order, int, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if offset < 0 {
		offset = 0
	}

	filter := bson.M{"retailer_id": retailerID}
	total, err := r.coll().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, domain.Unavailable("count orders", err)
	}
	if total == 0 || int64(offset) >= total {
		return []domain.Order{}, int(total), nil
	}

	cursor, err := r.coll().Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, domain.Unavailable("list orders", err)
	}

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, domain.Unavailable("decode orders", err)
	}

	result := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.toDomain()
		if err != nil {
			return nil, 0, err
		}
		result = append(result, order)
	}
	return result, int(total), nil
}

// Save обновляет документ, только если version совпадает с order.Version.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.coll().UpdateOne(ctx,
		bson.M{"_id": order.ID, "version": order.Version},
		bson.M{
			"$set": bson.M{
				"status":         string(order.Status),
				"status_history": historyDocs(order.StatusHistory),
				"payment_status": order.PaymentStatus,
				"updated_at":     order.UpdatedAt.UTC(),
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return domain.Unavailable("update order", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.coll().CountDocuments(ctx, bson.M{"_id": order.ID}, options.Count().SetLimit(1))
	if err != nil {
		return domain.Unavailable("check order exists", err)
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

var _ domain.OrderRepository = (*orderRepository)(nil)
