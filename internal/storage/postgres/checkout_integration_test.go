package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
)

func seedCheckoutProducts(t *testing.T, store *Store, stock int) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"p-a", "p-b"} {
		if err := store.Repositories().Products.Upsert(ctx, domain.Product{
			ID: id, Name: "Item " + id, Price: decimal.RequireFromString("5.00"), Stock: stock, MinStock: 1, IsActive: true,
		}); err != nil {
			t.Fatalf("seed product %s: %v", id, err)
		}
	}
}

func TestCheckout_PostgresConcurrentSubmitsPlaceOneOrder(t *testing.T) {
	store := migratedTestStore(t)
	ctx := context.Background()
	seedCheckoutProducts(t, store, 100)

	carts := cart.NewManager(store, nil)
	for _, id := range []string{"p-a", "p-b"} {
		if _, err := carts.Add(ctx, "r-1", id, 2); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	builder := checkout.NewBuilder(store, nil)
	const submits = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		placed  int
		empties int
		other   []error
	)
	for range submits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := builder.Checkout(ctx, checkout.Request{RetailerID: "r-1", DeliveryAddress: "Test St"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, domain.ErrEmptyCart):
				empties++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected checkout errors: %v", other)
	}
	if placed != 1 || empties != submits-1 {
		t.Fatalf("expected 1 order and %d empty carts, got %d and %d", submits-1, placed, empties)
	}

	_, total, err := store.Repositories().Orders.ListByRetailer(ctx, "r-1", 0, 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected a single stored order, got %d", total)
	}
	for _, id := range []string{"p-a", "p-b"} {
		product, err := store.Repositories().Products.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if product.Stock != 98 {
			t.Fatalf("stock of %s decremented more than once: %d", id, product.Stock)
		}
	}
}

func TestCart_PostgresConcurrentAddsKeepEveryIncrement(t *testing.T) {
	store := migratedTestStore(t)
	ctx := context.Background()
	seedCheckoutProducts(t, store, 100)

	carts := cart.NewManager(store, nil)
	var wg sync.WaitGroup
	for _, qty := range []int{2, 3, 4, 5, 6} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := carts.Add(ctx, "r-2", "p-a", qty); err != nil {
				t.Errorf("add %d: %v", qty, err)
			}
		}()
	}
	wg.Wait()

	entry, err := store.Repositories().Carts.Get(ctx, "r-2", "p-a")
	if err != nil {
		t.Fatalf("get cart entry: %v", err)
	}
	if entry.Quantity != 20 {
		t.Fatalf("expected quantity 20, got %d", entry.Quantity)
	}
}

func TestCheckout_PostgresKeepsEntryAddedDuringCheckout(t *testing.T) {
	store := migratedTestStore(t)
	ctx := context.Background()
	seedCheckoutProducts(t, store, 100)

	carts := cart.NewManager(store, nil)
	if _, err := carts.Add(ctx, "r-3", "p-a", 1); err != nil {
		t.Fatalf("add p-a: %v", err)
	}

	// Позиция появляется в корзине после её чтения, но до удаления.
	late := time.Now().UTC()
	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		entries, err := repos.Carts.List(ctx, "r-3")
		if err != nil {
			return err
		}
		if err := store.Repositories().Carts.Upsert(ctx, domain.CartEntry{
			RetailerID: "r-3", ProductID: "p-b", Quantity: 1, AddedAt: late, UpdatedAt: late,
		}); err != nil {
			return err
		}
		listed := make([]string, len(entries))
		for i, entry := range entries {
			listed[i] = entry.ProductID
		}
		_, err = repos.Carts.Clear(ctx, "r-3", listed)
		return err
	})
	if err != nil {
		t.Fatalf("clear listed entries: %v", err)
	}

	left, err := store.Repositories().Carts.List(ctx, "r-3")
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(left) != 1 || left[0].ProductID != "p-b" {
		t.Fatalf("expected p-b to survive, got %+v", left)
	}
}
