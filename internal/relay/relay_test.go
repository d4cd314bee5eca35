package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/4xmen/cafemeet/internal/models"
)

func TestLocalDeliversToRegisteredUser(t *testing.T) {
	l := NewLocal(nil)

	var got []Envelope
	unregister, err := l.Register("u2", func(_ context.Context, env Envelope) { got = append(got, env) })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	msg := &models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi"}
	if err := l.Publish(context.Background(), Envelope{Type: TypeMessage, To: "u2", Message: msg}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Publish(context.Background(), Envelope{Type: TypeMessage, To: "u3", Message: msg}); err != nil {
		t.Fatalf("Publish to offline user: %v", err)
	}

	if len(got) != 1 || got[0].Message.ID != "m1" {
		t.Fatalf("delivered = %+v", got)
	}

	unregister()
	_ = l.Publish(context.Background(), Envelope{Type: TypeMessage, To: "u2", Message: msg})
	if len(got) != 1 {
		t.Fatalf("delivered after unregister")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, nil)
	defer r.Close()

	received := make(chan Envelope, 1)
	unregister, err := r.Register("u2", func(_ context.Context, env Envelope) { received <- env })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer unregister()

	offer := &models.CoffeeOffer{ID: "o1", SenderID: "u1", ReceiverID: "u2", Kind: models.OfferBuying, Status: models.OfferPending}
	if err := r.Publish(context.Background(), Envelope{Type: TypeOffer, To: "u2", Offer: offer}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-received:
		if env.Type != TypeOffer || env.Offer == nil || env.Offer.ID != "o1" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("envelope not delivered")
	}
}

func TestRedisDialFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr, nil); err == nil {
		t.Fatalf("Dial succeeded against a closed server")
	}
}
