package order

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- In-memory repository ---

type memRepo struct {
	mu      sync.Mutex
	byGID   map[string]*Order
	creates int

	// findHook runs after a successful lookup, outside the lock.
	findHook func()
}

func newMemRepo(orders ...*Order) *memRepo {
	r := &memRepo{byGID: make(map[string]*Order)}
	for _, o := range orders {
		r.byGID[o.GatewayOrderID] = o
	}
	return r
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.History = append([]HistoryEntry(nil), o.History...)
	c.Items = append([]LineItem(nil), o.Items...)
	return &c
}

func (r *memRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byGID[o.GatewayOrderID]; ok {
		return ErrDuplicate
	}
	for _, existing := range r.byGID {
		if existing.ID == o.ID {
			return ErrDuplicate
		}
	}
	r.creates++
	r.byGID[o.GatewayOrderID] = cloneOrder(o)
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.byGID {
		if o.ID == id {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) FindByGatewayOrderID(_ context.Context, gid string) (*Order, error) {
	r.mu.Lock()
	o, ok := r.byGID[gid]
	var c *Order
	if ok {
		c = cloneOrder(o)
	}
	hook := r.findHook
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if hook != nil {
		hook()
	}
	return c, nil
}

func (r *memRepo) Transition(_ context.Context, gid string, expected PaymentStatus, p Patch) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byGID[gid]
	if !ok {
		return nil, ErrNotFound
	}
	if o.PaymentStatus != expected {
		return nil, ErrConflict
	}
	o.PaymentStatus = p.PaymentStatus
	o.Status = p.Status
	if p.PaymentID != "" {
		o.PaymentID = p.PaymentID
	}
	if p.Signature != "" {
		o.Signature = p.Signature
	}
	o.History = append(o.History, p.History)
	return cloneOrder(o), nil
}

func (r *memRepo) AppendHistory(_ context.Context, gid string, e HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byGID[gid]
	if !ok {
		return ErrNotFound
	}
	o.History = append(o.History, e)
	return nil
}

func (r *memRepo) HasPaidOrder(context.Context, string) (bool, error) { return false, nil }

func (r *memRepo) HasPaidOrderWithPromo(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *memRepo) get(gid string) *Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byGID[gid]; ok {
		return cloneOrder(o)
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

// --- Helpers ---

const (
	testCallbackSecret = "callback-secret"
	testWebhookSecret  = "webhook-secret"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func pendingOrder(gid, userID string) *Order {
	return &Order{
		ID:             "ord-" + gid,
		GatewayOrderID: gid,
		UserID:         userID,
		Amount:         AmountBreakdown{Subtotal: 1000, Total: 1000, TaxIncluded: true},
		Currency:       "INR",
		PaymentStatus:  PaymentPending,
		Status:         StatusPending,
		History:        []HistoryEntry{{Status: StatusPending, Note: "Order placed", UpdatedBy: UpdatedByGuest}},
	}
}

func newTestReconciler(t *testing.T, repo Repository, pub Publisher) *Reconciler {
	t.Helper()
	r, err := NewReconciler(repo, ReconcilerOptions{
		CallbackSecret: testCallbackSecret,
		WebhookSecret:  testWebhookSecret,
		Publisher:      pub,
	})
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	return r
}

func validCallback(gid, pid string) Callback {
	return Callback{
		GatewayOrderID: gid,
		PaymentID:      pid,
		Signature:      CallbackSignature([]byte(testCallbackSecret), gid, pid),
	}
}

func webhookBody(event, gid, pid string, amount int64) []byte {
	return webhookBodyWithNotes(event, gid, pid, amount, `{"userId":"u1","promoCode":"SAVE10"}`)
}

func webhookBodyWithNotes(event, gid, pid string, amount int64, notes string) []byte {
	return []byte(fmt.Sprintf(
		`{"entity":"event","event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"currency":"INR","email":null,"contact":"+910000000000","notes":%s}}}}`,
		event, pid, gid, amount, notes,
	))
}

func signatureHeader(sig string) http.Header {
	h := http.Header{}
	h.Set("X-Signature", sig)
	return h
}

func sign(body []byte) http.Header {
	return signatureHeader(WebhookSignature([]byte(testWebhookSecret), body))
}

// --- Callback ---

func TestVerifyCallback_Success(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", "u1"))
	pub := &recordingPublisher{}
	r := newTestReconciler(t, repo, pub)

	res, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "u1")
	require.NoError(t, err)
	assert.True(t, res.Success())

	o := repo.get("order_1")
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "pay_1", o.PaymentID)
	require.Len(t, o.History, 2)
	assert.Equal(t, HistoryEntry{Status: StatusConfirmed, Note: "Payment verified", UpdatedBy: UpdatedBySystem, Timestamp: fixedNow}, o.History[1])

	require.Len(t, pub.events, 1)
	assert.Equal(t, SourceCallback, pub.events[0].Source)
	assert.Equal(t, PaymentPaid, pub.events[0].PaymentStatus)
}

func TestVerifyCallback_Idempotent(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	pub := &recordingPublisher{}
	r := newTestReconciler(t, repo, pub)
	ctx := context.Background()

	first, err := r.VerifyCallback(ctx, validCallback("order_1", "pay_1"), "")
	require.NoError(t, err)
	require.True(t, first.Success())
	historyLen := len(repo.get("order_1").History)

	second, err := r.VerifyCallback(ctx, validCallback("order_1", "pay_1"), "")
	require.NoError(t, err)
	assert.True(t, second.Success())

	o := repo.get("order_1")
	assert.Len(t, o.History, historyLen)
	assert.Equal(t, "pay_1", o.PaymentID)
	assert.Len(t, pub.events, 1)

	// A later callback with another payment id must not overwrite it.
	third, err := r.VerifyCallback(ctx, validCallback("order_1", "pay_2"), "")
	require.NoError(t, err)
	assert.True(t, third.Success())
	assert.Equal(t, "pay_1", repo.get("order_1").PaymentID)
}

func TestVerifyCallback_TamperedSignature(t *testing.T) {
	valid := validCallback("order_1", "pay_1")

	for i := range len(valid.Signature) {
		t.Run(fmt.Sprintf("byte_%d", i), func(t *testing.T) {
			repo := newMemRepo(pendingOrder("order_1", ""))
			r := newTestReconciler(t, repo, nil)

			sig := []byte(valid.Signature)
			if sig[i] == 'a' {
				sig[i] = 'b'
			} else {
				sig[i] = 'a'
			}
			cb := valid
			cb.Signature = string(sig)

			res, err := r.VerifyCallback(context.Background(), cb, "")
			require.NoError(t, err)
			assert.False(t, res.Success())
			assert.Equal(t, PaymentFailed, res.Status)

			o := repo.get("order_1")
			assert.Equal(t, PaymentFailed, o.PaymentStatus)
			assert.Equal(t, StatusPaymentFailed, o.Status)
			assert.Empty(t, o.PaymentID)
			assert.Equal(t, "Signature mismatch", o.History[len(o.History)-1].Note)
		})
	}
}

func TestVerifyCallback_FailedOrderIsNotRevived(t *testing.T) {
	o := pendingOrder("order_1", "")
	o.PaymentStatus = PaymentFailed
	o.Status = StatusPaymentFailed
	repo := newMemRepo(o)
	r := newTestReconciler(t, repo, nil)

	res, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "")
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, PaymentFailed, repo.get("order_1").PaymentStatus)
	assert.Len(t, repo.get("order_1").History, 1)
}

func TestVerifyCallback_Errors(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		r := newTestReconciler(t, newMemRepo(), nil)
		_, err := r.VerifyCallback(context.Background(), Callback{GatewayOrderID: "order_1"}, "")
		require.ErrorIs(t, err, ErrMissingFields)
	})

	t.Run("unknown order", func(t *testing.T) {
		r := newTestReconciler(t, newMemRepo(), nil)
		_, err := r.VerifyCallback(context.Background(), validCallback("order_x", "pay_1"), "")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other user's order", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", "u1"))
		r := newTestReconciler(t, repo, nil)

		_, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "u2")
		require.ErrorIs(t, err, ErrUnauthorized)

		o := repo.get("order_1")
		assert.Equal(t, PaymentPending, o.PaymentStatus)
		require.Len(t, o.History, 2)
		assert.Equal(t, "u2", o.History[1].UpdatedBy)
	})

	t.Run("guest order skips session check", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", ""))
		r := newTestReconciler(t, repo, nil)

		res, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "u2")
		require.NoError(t, err)
		assert.True(t, res.Success())
	})
}

func TestVerifyCallback_LosesRaceToWebhook(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	r := newTestReconciler(t, repo, nil)

	// The webhook settles the order between lookup and transition.
	once := sync.Once{}
	repo.findHook = func() {
		once.Do(func() {
			_, err := repo.Transition(context.Background(), "order_1", PaymentPending, Patch{
				PaymentStatus: PaymentPaid,
				Status:        StatusConfirmed,
				PaymentID:     "pay_1",
				History:       HistoryEntry{Status: StatusConfirmed, Note: "Payment captured", UpdatedBy: UpdatedByWebhook},
			})
			require.NoError(t, err)
		})
	}

	cb := validCallback("order_1", "pay_1")
	cb.Signature = "deadbeef"
	res, err := r.VerifyCallback(context.Background(), cb, "")
	require.NoError(t, err)
	assert.True(t, res.Success(), "winner's state is reported")
	assert.Equal(t, PaymentPaid, repo.get("order_1").PaymentStatus)
	assert.Len(t, repo.get("order_1").History, 2)
}

func TestVerifyCallback_PublishFailureIsNotFatal(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	r := newTestReconciler(t, repo, &recordingPublisher{err: errors.New("broker down")})

	res, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "")
	require.NoError(t, err)
	assert.True(t, res.Success())
}

// --- Webhook ---

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	repo := newMemRepo()
	r := newTestReconciler(t, repo, nil)
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 1000)

	for _, h := range []http.Header{
		{},
		signatureHeader("00"),
		signatureHeader(WebhookSignature([]byte(testWebhookSecret), []byte("other"))),
	} {
		_, err := r.HandleWebhook(context.Background(), body, h)
		require.ErrorIs(t, err, ErrInvalidSignature)
	}
	assert.Equal(t, 0, repo.creates)
}

func TestHandleWebhook_IgnoresUnknownEvents(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	r := newTestReconciler(t, repo, nil)
	body := webhookBody("refund.created", "order_1", "pay_1", 1000)

	res, err := r.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, PaymentPending, repo.get("order_1").PaymentStatus)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	r := newTestReconciler(t, newMemRepo(), nil)
	body := []byte(`{"event":`)

	_, err := r.HandleWebhook(context.Background(), body, sign(body))
	require.ErrorIs(t, err, ErrMalformedEvent)

	body = []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)
	_, err = r.HandleWebhook(context.Background(), body, sign(body))
	require.ErrorIs(t, err, ErrMissingFields)
}

func TestHandleWebhook_CreatesMissingOrderOnce(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	r := newTestReconciler(t, repo, pub)
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 1000)
	ctx := context.Background()

	first, err := r.HandleWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, first.Outcome)

	o := repo.get("order_1")
	require.NotNil(t, o)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "pay_1", o.PaymentID)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, "SAVE10", o.PromoCode)
	assert.Equal(t, int64(1000), o.Amount.Total)
	assert.True(t, o.Amount.Balanced())
	historyLen := len(o.History)

	second, err := r.HandleWebhook(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, second.Outcome)

	assert.Equal(t, 1, repo.creates)
	assert.Len(t, repo.get("order_1").History, historyLen)
	assert.Len(t, pub.events, 1)
}

func TestHandleWebhook_SettlesPendingOrder(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", "u1"))
	r := newTestReconciler(t, repo, nil)
	body := webhookBody(EventPaymentFailed, "order_1", "pay_1", 1000)

	res, err := r.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Outcome)

	o := repo.get("order_1")
	assert.Equal(t, PaymentFailed, o.PaymentStatus)
	assert.Empty(t, o.PaymentID)
	assert.Equal(t, 0, repo.creates)
}

func TestHandleWebhook_TerminalOrderUntouched(t *testing.T) {
	paid := pendingOrder("order_1", "")
	paid.PaymentStatus = PaymentPaid
	paid.Status = StatusConfirmed
	paid.PaymentID = "pay_1"
	repo := newMemRepo(paid)
	r := newTestReconciler(t, repo, nil)

	body := webhookBody(EventPaymentFailed, "order_1", "pay_1", 1000)
	res, err := r.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Outcome)

	o := repo.get("order_1")
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Len(t, o.History, 1)
}

func TestHandleWebhook_ConcurrentDeliveries(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	r := newTestReconciler(t, repo, pub)
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 1000)
	sig := sign(body)

	const deliveries = 8
	var wg sync.WaitGroup
	outcomes := make([]WebhookOutcome, deliveries)
	errs := make([]error, deliveries)
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.HandleWebhook(context.Background(), body, sig)
			outcomes[i], errs[i] = res.Outcome, err
		}()
	}
	wg.Wait()

	processed := 0
	for i := range deliveries {
		require.NoError(t, errs[i])
		if outcomes[i] == WebhookProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, repo.creates)
	assert.Equal(t, PaymentPaid, repo.get("order_1").PaymentStatus)
	assert.Len(t, pub.events, 1)
}

func TestHandleWebhook_RacesCallback(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	pub := &recordingPublisher{}
	r := newTestReconciler(t, repo, pub)
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 1000)
	sig := sign(body)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := r.HandleWebhook(context.Background(), body, sig)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := r.VerifyCallback(context.Background(), validCallback("order_1", "pay_1"), "")
		assert.NoError(t, err)
	}()
	wg.Wait()

	o := repo.get("order_1")
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Len(t, o.History, 2)
	assert.Len(t, pub.events, 1)
}

func TestHandleWebhook_NoteOrderID(t *testing.T) {
	noted := uuid.NewString()

	tests := []struct {
		name     string
		notes    string
		existing *Order
		wantID   func(t *testing.T, id string)
	}{
		{
			name:  "checkout id is kept",
			notes: fmt.Sprintf(`{"orderId":%q}`, noted),
			wantID: func(t *testing.T, id string) {
				assert.Equal(t, noted, id)
			},
		},
		{
			name:  "foreign id is replaced",
			notes: `{"orderId":"ORD-1042"}`,
			wantID: func(t *testing.T, id string) {
				_, err := uuid.Parse(id)
				require.NoError(t, err)
				assert.NotEqual(t, "ORD-1042", id)
			},
		},
		{
			name:     "id of another gateway order is replaced",
			notes:    fmt.Sprintf(`{"orderId":%q}`, noted),
			existing: &Order{ID: noted, GatewayOrderID: "order_other", PaymentStatus: PaymentPending},
			wantID: func(t *testing.T, id string) {
				assert.NotEqual(t, noted, id)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			if tt.existing != nil {
				repo = newMemRepo(tt.existing)
			}
			r := newTestReconciler(t, repo, nil)
			body := webhookBodyWithNotes(EventPaymentCaptured, "order_1", "pay_1", 1000, tt.notes)

			res, err := r.HandleWebhook(context.Background(), body, sign(body))
			require.NoError(t, err)
			assert.Equal(t, WebhookProcessed, res.Outcome)

			o := repo.get("order_1")
			require.NotNil(t, o)
			assert.Equal(t, PaymentPaid, o.PaymentStatus)
			tt.wantID(t, o.ID)
			assert.Equal(t, 1, repo.creates)
		})
	}
}

func TestHandleWebhook_CapturedAmountMismatch(t *testing.T) {
	repo := newMemRepo(pendingOrder("order_1", ""))
	r := newTestReconciler(t, repo, nil)
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 900)

	res, err := r.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Outcome)

	o := repo.get("order_1")
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	require.Len(t, o.History, 2)
	assert.Equal(t, "Payment captured (amount mismatch: captured 900 INR, expected 1000 INR)", o.History[1].Note)

	// Matching captures keep the plain note.
	repo = newMemRepo(pendingOrder("order_2", ""))
	r = newTestReconciler(t, repo, nil)
	body = webhookBody(EventPaymentCaptured, "order_2", "pay_2", 1000)
	_, err = r.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, "Payment captured", repo.get("order_2").History[1].Note)
}

func TestHMACWebhooks_HeaderFallback(t *testing.T) {
	body := webhookBody(EventPaymentCaptured, "order_1", "pay_1", 1000)
	sig := WebhookSignature([]byte(testWebhookSecret), body)
	v := HMACWebhooks{Secret: []byte(testWebhookSecret)}

	h := http.Header{}
	h.Set("X-Razorpay-Signature", strings.ToUpper(sig))
	ev, err := v.DecodeWebhook(body, h)
	require.NoError(t, err)
	assert.Equal(t, "order_1", ev.Payment.OrderID)

	h.Set("X-Signature", "00")
	_, err = v.DecodeWebhook(body, h)
	require.ErrorIs(t, err, ErrInvalidSignature, "X-Signature takes precedence")
}

type stubCallbacks struct {
	verdict CallbackVerdict
	err     error
}

func (s stubCallbacks) CheckCallback(context.Context, Callback) (CallbackVerdict, error) {
	return s.verdict, s.err
}

type stubWebhooks struct {
	ev *WebhookEvent
}

func (s stubWebhooks) DecodeWebhook([]byte, http.Header) (*WebhookEvent, error) {
	return s.ev, nil
}

func TestReconciler_GatewayVerification(t *testing.T) {
	ctx := context.Background()
	cb := Callback{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: "secret"}

	t.Run("unsettled callback keeps order pending", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", ""))
		r, err := NewReconciler(repo, ReconcilerOptions{Callbacks: stubCallbacks{verdict: CallbackUnsettled}})
		require.NoError(t, err)

		res, err := r.VerifyCallback(ctx, cb, "")
		require.NoError(t, err)
		assert.Equal(t, PaymentPending, res.Status)
		assert.Len(t, repo.get("order_1").History, 1)
	})

	t.Run("paid callback", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", ""))
		r, err := NewReconciler(repo, ReconcilerOptions{Callbacks: stubCallbacks{verdict: CallbackPaid}})
		require.NoError(t, err)

		res, err := r.VerifyCallback(ctx, cb, "")
		require.NoError(t, err)
		assert.True(t, res.Success())
	})

	t.Run("verifier error", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", ""))
		r, err := NewReconciler(repo, ReconcilerOptions{Callbacks: stubCallbacks{err: errors.New("gateway down")}})
		require.NoError(t, err)

		_, err = r.VerifyCallback(ctx, cb, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "check callback")
		assert.Equal(t, PaymentPending, repo.get("order_1").PaymentStatus)
	})

	t.Run("custom webhook decoder", func(t *testing.T) {
		repo := newMemRepo(pendingOrder("order_1", ""))
		r, err := NewReconciler(repo, ReconcilerOptions{Webhooks: stubWebhooks{ev: &WebhookEvent{
			Type:    EventPaymentCaptured,
			Payment: PaymentEntity{ID: "ch_1", OrderID: "order_1", Amount: 1000, Currency: "inr"},
		}}})
		require.NoError(t, err)

		res, err := r.HandleWebhook(ctx, []byte("{}"), http.Header{})
		require.NoError(t, err)
		assert.Equal(t, WebhookProcessed, res.Outcome)
		o := repo.get("order_1")
		assert.Equal(t, "ch_1", o.PaymentID)
		assert.Equal(t, "Payment captured", o.History[1].Note)
	})
}
