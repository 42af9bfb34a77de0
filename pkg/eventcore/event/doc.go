// Package event implements the publish/subscribe core: immutable events
// with correlation chaining, subscription patterns with wildcard and
// operator-based attribute matching, interchangeable matching
// strategies, a synchronous router with sync/async/queued delivery, and
// a concurrency-safe bus with bounded event history and expiring
// subscriptions.
//
// Basic usage:
//
//	router := event.NewRouter()
//	sub, _ := router.Subscribe(
//		event.Pattern{EventType: "order.*"},
//		func(ctx context.Context, e event.Event) error {
//			fmt.Println("got", e.Type)
//			return nil
//		},
//		event.WithPriority(10),
//	)
//	defer router.Unsubscribe(sub)
//
//	e, _ := event.New("order.created", "checkout",
//		event.WithPayload(map[string]any{"amount": 42}))
//	_ = router.Publish(ctx, e, event.DeliverySync)
package event
