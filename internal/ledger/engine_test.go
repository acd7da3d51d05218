package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskmint/backend/internal/models"
	"github.com/taskmint/backend/internal/payout"
	"github.com/taskmint/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory mocks for the engine's store interfaces. They replicate the
// conditional-update semantics of the SQL repositories so the engine's logic
// can be exercised without a database.
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx; only Commit/Rollback are ever called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockDB struct{}

func (mockDB) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// --- UserStore mock ---

type mockUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMockUsers(users ...*models.User) *mockUsers {
	m := &mockUsers{users: make(map[string]*models.User)}
	for _, u := range users {
		cp := *u
		m.users[u.Email] = &cp
	}
	return m
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUsers) CreditCoins(_ context.Context, _ pgx.Tx, email string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.Coins += amount
	return u.Coins, nil
}

func (m *mockUsers) DebitCoins(_ context.Context, _ pgx.Tx, email string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if u.Coins < amount {
		return 0, repository.ErrInsufficientBalance
	}
	u.Coins -= amount
	return u.Coins, nil
}

func (m *mockUsers) balance(email string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email].Coins
}

// --- TaskStore mock ---

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTasks(tasks ...*models.Task) *mockTasks {
	m := &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
	for _, t := range tasks {
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return m
}

func (m *mockTasks) Create(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTasks) ClaimSlot(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusActive || t.RequiredWorkers <= 0 {
		return nil, false, nil
	}
	t.RequiredWorkers--
	cp := *t
	return &cp, true, nil
}

func (m *mockTasks) ReturnSlot(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusActive {
		return false, nil
	}
	t.RequiredWorkers++
	return true, nil
}

func (m *mockTasks) Delete(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockTasks) slots(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id].RequiredWorkers
}

// --- SubmissionStore mock ---

type mockSubmissions struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*models.Submission
}

func newMockSubmissions() *mockSubmissions {
	return &mockSubmissions{subs: make(map[uuid.UUID]*models.Submission)}
}

func (m *mockSubmissions) Create(_ context.Context, _ pgx.Tx, s *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *mockSubmissions) GetByID(_ context.Context, id uuid.UUID) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSubmissions) MarkReviewed(_ context.Context, _ pgx.Tx, id uuid.UUID, status models.SubmissionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status != models.SubmissionStatusPending {
		return false, nil
	}
	s.Status = status
	return true, nil
}

func (m *mockSubmissions) RejectPendingByTask(_ context.Context, _ pgx.Tx, taskID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.subs {
		if s.TaskID == taskID && s.Status == models.SubmissionStatusPending {
			s.Status = models.SubmissionStatusRejected
			n++
		}
	}
	return n, nil
}

func (m *mockSubmissions) status(id uuid.UUID) models.SubmissionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id].Status
}

// --- WithdrawalStore mock ---

type mockWithdrawals struct {
	mu  sync.Mutex
	wds map[uuid.UUID]*models.Withdrawal
}

func newMockWithdrawals() *mockWithdrawals {
	return &mockWithdrawals{wds: make(map[uuid.UUID]*models.Withdrawal)}
}

func (m *mockWithdrawals) Create(_ context.Context, _ pgx.Tx, w *models.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wds[w.ID] = &cp
	return nil
}

func (m *mockWithdrawals) GetByID(_ context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *mockWithdrawals) Approve(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wds[id]
	if !ok || w.Status != models.WithdrawalStatusPending {
		return false, nil
	}
	w.Status = models.WithdrawalStatusApproved
	return true, nil
}

// --- PurchaseStore mock ---

type mockPurchases struct {
	mu     sync.Mutex
	byTxID map[string]*models.Purchase
}

func newMockPurchases() *mockPurchases {
	return &mockPurchases{byTxID: make(map[string]*models.Purchase)}
}

func (m *mockPurchases) Create(_ context.Context, _ pgx.Tx, p *models.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTxID[p.TransactionID]; ok {
		return repository.ErrDuplicateTransaction
	}
	cp := *p
	m.byTxID[p.TransactionID] = &cp
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fixture struct {
	engine      *Engine
	users       *mockUsers
	tasks       *mockTasks
	submissions *mockSubmissions
	withdrawals *mockWithdrawals
	purchases   *mockPurchases
	payouts     []payout.JobArgs
}

func newFixture(users *mockUsers, tasks *mockTasks) *fixture {
	f := &fixture{
		users:       users,
		tasks:       tasks,
		submissions: newMockSubmissions(),
		withdrawals: newMockWithdrawals(),
		purchases:   newMockPurchases(),
	}
	var mu sync.Mutex
	insert := func(_ context.Context, _ pgx.Tx, args payout.JobArgs) error {
		mu.Lock()
		defer mu.Unlock()
		f.payouts = append(f.payouts, args)
		return nil
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(mockDB{}, f.users, f.tasks, f.submissions, f.withdrawals, f.purchases, insert, log)
	return f
}

func user(email string, role models.Role, coins int) *models.User {
	return &models.User{ID: uuid.New(), Email: email, Role: role, Coins: coins}
}

func activeTask(buyerEmail string, slots, payable int) *models.Task {
	return &models.Task{
		ID:              uuid.New(),
		BuyerEmail:      buyerEmail,
		Title:           "label photos",
		RequiredWorkers: slots,
		PayableAmount:   payable,
		TotalCost:       slots * payable,
		Status:          models.TaskStatusActive,
	}
}

// ---------------------------------------------------------------------------
// CreateTask
// ---------------------------------------------------------------------------

func TestCreateTaskEscrowsTotalCost(t *testing.T) {
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 50)), newMockTasks())
	ctx := context.Background()

	task, err := f.engine.CreateTask(ctx, "buyer@x.io", "label photos", "", 4, 10, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.TotalCost != 40 {
		t.Errorf("total cost: got %d, want 40", task.TotalCost)
	}
	if got := f.users.balance("buyer@x.io"); got != 10 {
		t.Errorf("buyer balance after escrow: got %d, want 10", got)
	}
	if _, err := f.tasks.GetByID(ctx, task.ID); err != nil {
		t.Errorf("task should be persisted: %v", err)
	}
}

func TestCreateTaskInsufficientBalance(t *testing.T) {
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 10)), newMockTasks())

	_, err := f.engine.CreateTask(context.Background(), "buyer@x.io", "label photos", "", 4, 10, nil)
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	if got := f.users.balance("buyer@x.io"); got != 10 {
		t.Errorf("buyer balance should be untouched: got %d, want 10", got)
	}
}

func TestCreateTaskRejectsNonPositiveInputs(t *testing.T) {
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 100)), newMockTasks())

	if _, err := f.engine.CreateTask(context.Background(), "buyer@x.io", "t", "", 0, 10, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero slots: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.engine.CreateTask(context.Background(), "buyer@x.io", "t", "", 3, -1, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative payable: expected ErrInvalidAmount, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// SubmitToTask (slot claim)
// ---------------------------------------------------------------------------

func TestSubmitToTaskCapturesTaskFields(t *testing.T) {
	task := activeTask("buyer@x.io", 2, 5)
	f := newFixture(newMockUsers(), newMockTasks(task))
	ctx := context.Background()

	sub, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "done")
	if err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}
	if sub.Status != models.SubmissionStatusPending {
		t.Errorf("status: got %s, want pending", sub.Status)
	}
	if sub.PayableAmount != 5 || sub.BuyerEmail != "buyer@x.io" {
		t.Errorf("captured fields: got amount %d buyer %q", sub.PayableAmount, sub.BuyerEmail)
	}
	if got := f.tasks.slots(task.ID); got != 1 {
		t.Errorf("slots after claim: got %d, want 1", got)
	}
}

func TestSubmitToTaskNotFound(t *testing.T) {
	f := newFixture(newMockUsers(), newMockTasks())

	_, err := f.engine.SubmitToTask(context.Background(), uuid.New(), "worker@x.io", "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestSubmitToTaskFull(t *testing.T) {
	task := activeTask("buyer@x.io", 0, 5)
	f := newFixture(newMockUsers(), newMockTasks(task))

	_, err := f.engine.SubmitToTask(context.Background(), task.ID, "worker@x.io", "")
	if !errors.Is(err, ErrTaskUnavailable) {
		t.Fatalf("expected ErrTaskUnavailable, got: %v", err)
	}
}

// With k slots and N > k concurrent claims, exactly k succeed and the task
// ends at zero slots.
func TestConcurrentSlotClaims(t *testing.T) {
	const slots = 3
	const attempts = 20

	task := activeTask("buyer@x.io", slots, 5)
	f := newFixture(newMockUsers(), newMockTasks(task))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, unavailable int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTaskUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != slots {
		t.Errorf("successful claims: got %d, want %d", ok, slots)
	}
	if unavailable != attempts-slots {
		t.Errorf("unavailable claims: got %d, want %d", unavailable, attempts-slots)
	}
	if got := f.tasks.slots(task.ID); got != 0 {
		t.Errorf("final slots: got %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Submission review
// ---------------------------------------------------------------------------

func TestApproveSubmissionPaysWorkerOnce(t *testing.T) {
	task := activeTask("buyer@x.io", 1, 5)
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 10)), newMockTasks(task))
	ctx := context.Background()

	sub, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}

	approved, err := f.engine.ApproveSubmission(ctx, sub.ID, "buyer@x.io", "worker@x.io", 5)
	if err != nil {
		t.Fatalf("ApproveSubmission: %v", err)
	}
	if approved.Status != models.SubmissionStatusApproved {
		t.Errorf("status: got %s, want approved", approved.Status)
	}
	if got := f.users.balance("worker@x.io"); got != 15 {
		t.Errorf("worker balance: got %d, want 15", got)
	}
	// Approval never touches the slot count.
	if got := f.tasks.slots(task.ID); got != 0 {
		t.Errorf("slots after approve: got %d, want 0", got)
	}

	// Second review fails and does not pay again.
	_, err = f.engine.ApproveSubmission(ctx, sub.ID, "buyer@x.io", "worker@x.io", 5)
	if !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed, got: %v", err)
	}
	if got := f.users.balance("worker@x.io"); got != 15 {
		t.Errorf("worker balance after retry: got %d, want 15", got)
	}
}

func TestApproveSubmissionAmountMismatch(t *testing.T) {
	task := activeTask("buyer@x.io", 1, 5)
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 0)), newMockTasks(task))
	ctx := context.Background()

	sub, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}

	if _, err := f.engine.ApproveSubmission(ctx, sub.ID, "buyer@x.io", "worker@x.io", 7); !errors.Is(err, ErrInconsistent) {
		t.Errorf("stale amount: expected ErrInconsistent, got %v", err)
	}
	if _, err := f.engine.ApproveSubmission(ctx, sub.ID, "buyer@x.io", "other@x.io", 5); !errors.Is(err, ErrInconsistent) {
		t.Errorf("wrong worker: expected ErrInconsistent, got %v", err)
	}
	if _, err := f.engine.ApproveSubmission(ctx, sub.ID, "mallory@x.io", "worker@x.io", 5); !errors.Is(err, ErrNotOwner) {
		t.Errorf("wrong reviewer: expected ErrNotOwner, got %v", err)
	}
	if got := f.users.balance("worker@x.io"); got != 0 {
		t.Errorf("worker balance should be untouched: got %d", got)
	}
	if got := f.submissions.status(sub.ID); got != models.SubmissionStatusPending {
		t.Errorf("submission should stay pending, got %s", got)
	}
}

func TestRejectSubmissionReturnsSlot(t *testing.T) {
	task := activeTask("buyer@x.io", 1, 5)
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 10)), newMockTasks(task))
	ctx := context.Background()

	sub, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}
	if got := f.tasks.slots(task.ID); got != 0 {
		t.Fatalf("slots after claim: got %d, want 0", got)
	}

	rejected, err := f.engine.RejectSubmission(ctx, sub.ID, "buyer@x.io")
	if err != nil {
		t.Fatalf("RejectSubmission: %v", err)
	}
	if rejected.Status != models.SubmissionStatusRejected {
		t.Errorf("status: got %s, want rejected", rejected.Status)
	}
	if got := f.tasks.slots(task.ID); got != 1 {
		t.Errorf("slots after reject: got %d, want 1", got)
	}
	// No refund to the worker: they were never charged.
	if got := f.users.balance("worker@x.io"); got != 10 {
		t.Errorf("worker balance: got %d, want 10", got)
	}

	if _, err := f.engine.RejectSubmission(ctx, sub.ID, "buyer@x.io"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Errorf("second reject: expected ErrAlreadyReviewed, got %v", err)
	}
	if got := f.tasks.slots(task.ID); got != 1 {
		t.Errorf("slots after second reject: got %d, want 1", got)
	}
}

// Rejecting a submission whose task is gone still succeeds; only the slot
// return is skipped.
func TestRejectSubmissionTaskGone(t *testing.T) {
	task := activeTask("buyer@x.io", 2, 5)
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 0)), newMockTasks(task))
	ctx := context.Background()

	sub, err := f.engine.SubmitToTask(ctx, task.ID, "worker@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}

	if _, err := f.engine.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	// The delete cascade already rejected it.
	if _, err := f.engine.RejectSubmission(ctx, sub.ID, "buyer@x.io"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("expected ErrAlreadyReviewed after cascade, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Task deletion
// ---------------------------------------------------------------------------

func TestDeleteTaskRefundsUnconsumedEscrow(t *testing.T) {
	task := activeTask("buyer@x.io", 3, 5)
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 0)), newMockTasks(task))
	ctx := context.Background()

	refund, err := f.engine.DeleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 15 {
		t.Errorf("refund: got %d, want 15", refund)
	}
	if got := f.users.balance("buyer@x.io"); got != 15 {
		t.Errorf("buyer balance: got %d, want 15", got)
	}
	if _, err := f.tasks.GetByID(ctx, task.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("task should be gone, got: %v", err)
	}
}

func TestDeleteClosedTaskRefundsNothing(t *testing.T) {
	task := activeTask("buyer@x.io", 3, 5)
	task.Status = models.TaskStatusCompleted
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 0)), newMockTasks(task))

	refund, err := f.engine.DeleteTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 0 {
		t.Errorf("refund: got %d, want 0", refund)
	}
	if got := f.users.balance("buyer@x.io"); got != 0 {
		t.Errorf("buyer balance: got %d, want 0", got)
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	f := newFixture(newMockUsers(), newMockTasks())

	_, err := f.engine.DeleteTask(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestDeleteTaskCascadeRejectsPending(t *testing.T) {
	task := activeTask("buyer@x.io", 3, 5)
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 0)), newMockTasks(task))
	ctx := context.Background()

	a, err := f.engine.SubmitToTask(ctx, task.ID, "a@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask a: %v", err)
	}
	b, err := f.engine.SubmitToTask(ctx, task.ID, "b@x.io", "")
	if err != nil {
		t.Fatalf("SubmitToTask b: %v", err)
	}

	// One slot open plus two pending claims; the rejected claims never paid
	// out, so the full escrow of all three slots comes back.
	refund, err := f.engine.DeleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 15 {
		t.Errorf("refund: got %d, want 15", refund)
	}
	if got := f.users.balance("buyer@x.io"); got != 15 {
		t.Errorf("buyer balance: got %d, want 15", got)
	}
	if got := f.submissions.status(a.ID); got != models.SubmissionStatusRejected {
		t.Errorf("submission a: got %s, want rejected", got)
	}
	if got := f.submissions.status(b.ID); got != models.SubmissionStatusRejected {
		t.Errorf("submission b: got %s, want rejected", got)
	}
}

// Deleting a task with a pending claim outstanding must not leak that claim's
// escrow: the buyer gets back exactly what was escrowed minus what was paid
// out, which here is everything.
func TestDeleteTaskConservesCoinsWithPendingClaims(t *testing.T) {
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 0), user("w@x.io", models.RoleWorker, 0)), newMockTasks())
	ctx := context.Background()

	minted, err := f.engine.MintCoins(ctx, "buyer@x.io", 15, "txn-del-001")
	if err != nil {
		t.Fatalf("MintCoins: %v", err)
	}
	if minted != 15 {
		t.Fatalf("minted balance: got %d, want 15", minted)
	}

	task, err := f.engine.CreateTask(ctx, "buyer@x.io", "label photos", "", 3, 5, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got := f.users.balance("buyer@x.io"); got != 0 {
		t.Fatalf("buyer after escrow: got %d, want 0", got)
	}

	if _, err := f.engine.SubmitToTask(ctx, task.ID, "w@x.io", ""); err != nil {
		t.Fatalf("SubmitToTask: %v", err)
	}

	refund, err := f.engine.DeleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 15 {
		t.Errorf("refund: got %d, want 15", refund)
	}

	total := f.users.balance("buyer@x.io") + f.users.balance("w@x.io")
	if total != 15 {
		t.Errorf("system total after delete: got %d, want the minted 15", total)
	}
}

// ---------------------------------------------------------------------------
// Withdrawals
// ---------------------------------------------------------------------------

func TestRequestWithdrawalDebitsImmediately(t *testing.T) {
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 20)), newMockTasks())
	ctx := context.Background()

	wd, err := f.engine.RequestWithdrawal(ctx, "worker@x.io", 20, "bkash", "0171")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if wd.Status != models.WithdrawalStatusPending {
		t.Errorf("status: got %s, want pending", wd.Status)
	}
	if got := f.users.balance("worker@x.io"); got != 0 {
		t.Errorf("balance after request: got %d, want 0", got)
	}

	// The balance is empty now, so an identical second request fails.
	if _, err := f.engine.RequestWithdrawal(ctx, "worker@x.io", 20, "bkash", "0171"); !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got: %v", err)
	}
}

// Two concurrent requests that each fit the balance alone but not together:
// exactly one wins.
func TestConcurrentWithdrawalRequests(t *testing.T) {
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 20)), newMockTasks())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RequestWithdrawal(ctx, "worker@x.io", 15, "bkash", "0171")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, short int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrInsufficientBalance):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Errorf("got %d successes and %d shortfalls, want 1 and 1", ok, short)
	}
	if got := f.users.balance("worker@x.io"); got != 5 {
		t.Errorf("final balance: got %d, want 5", got)
	}
}

func TestRequestWithdrawalRejectsNonPositive(t *testing.T) {
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 20)), newMockTasks())

	if _, err := f.engine.RequestWithdrawal(context.Background(), "worker@x.io", 0, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got: %v", err)
	}
}

func TestApproveWithdrawalFlipsStatusOnlyOnceAndEnqueuesPayout(t *testing.T) {
	f := newFixture(newMockUsers(user("worker@x.io", models.RoleWorker, 20)), newMockTasks())
	ctx := context.Background()

	wd, err := f.engine.RequestWithdrawal(ctx, "worker@x.io", 20, "bkash", "0171")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	approved, err := f.engine.ApproveWithdrawal(ctx, wd.ID)
	if err != nil {
		t.Fatalf("ApproveWithdrawal: %v", err)
	}
	if approved.Status != models.WithdrawalStatusApproved {
		t.Errorf("status: got %s, want approved", approved.Status)
	}
	// Approval moves no coins: the debit happened at request time.
	if got := f.users.balance("worker@x.io"); got != 0 {
		t.Errorf("balance after approval: got %d, want 0", got)
	}
	if len(f.payouts) != 1 || f.payouts[0].WithdrawalID != wd.ID || f.payouts[0].Coins != 20 {
		t.Errorf("payout jobs: got %+v, want one for the withdrawal", f.payouts)
	}

	if _, err := f.engine.ApproveWithdrawal(ctx, wd.ID); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got: %v", err)
	}
	if len(f.payouts) != 1 {
		t.Errorf("payout jobs after retry: got %d, want 1", len(f.payouts))
	}
}

func TestApproveWithdrawalNotFound(t *testing.T) {
	f := newFixture(newMockUsers(), newMockTasks())

	_, err := f.engine.ApproveWithdrawal(context.Background(), uuid.New())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Minting
// ---------------------------------------------------------------------------

func TestMintCoinsIdempotent(t *testing.T) {
	f := newFixture(newMockUsers(user("buyer@x.io", models.RoleBuyer, 50)), newMockTasks())
	ctx := context.Background()

	balance, err := f.engine.MintCoins(ctx, "buyer@x.io", 100, "txn-001")
	if err != nil {
		t.Fatalf("MintCoins: %v", err)
	}
	if balance != 150 {
		t.Errorf("balance: got %d, want 150", balance)
	}

	// Redelivered callback: same token, no second credit.
	if _, err := f.engine.MintCoins(ctx, "buyer@x.io", 100, "txn-001"); !errors.Is(err, repository.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got: %v", err)
	}
	if got := f.users.balance("buyer@x.io"); got != 150 {
		t.Errorf("balance after replay: got %d, want 150", got)
	}
}

func TestMintCoinsUnknownUser(t *testing.T) {
	f := newFixture(newMockUsers(), newMockTasks())

	_, err := f.engine.MintCoins(context.Background(), "ghost@x.io", 100, "txn-002")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Conflict mapping
// ---------------------------------------------------------------------------

type serializationFailingUsers struct {
	mockUsers
}

func (s *serializationFailingUsers) DebitCoins(context.Context, pgx.Tx, string, int) (int, error) {
	return 0, &pgconn.PgError{Code: pgerrcode.SerializationFailure}
}

func TestSerializationFailureSurfacesAsConflict(t *testing.T) {
	f := newFixture(newMockUsers(), newMockTasks())
	failing := &serializationFailingUsers{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := New(mockDB{}, failing, f.tasks, f.submissions, f.withdrawals, f.purchases, nil, log)

	_, err := engine.RequestWithdrawal(context.Background(), "worker@x.io", 5, "", "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// End to end: the full marketplace cycle with coin conservation.
// ---------------------------------------------------------------------------

func TestMarketplaceCycle(t *testing.T) {
	buyer := user("buyer@x.io", models.RoleBuyer, 50)
	workerA := user("a@x.io", models.RoleWorker, 10)
	workerB := user("b@x.io", models.RoleWorker, 10)
	f := newFixture(newMockUsers(buyer, workerA, workerB), newMockTasks())
	ctx := context.Background()

	total := func() int {
		return f.users.balance("buyer@x.io") + f.users.balance("a@x.io") + f.users.balance("b@x.io")
	}
	minted := total() // 70

	// Buyer posts a task: 2 slots at 5 coins.
	task, err := f.engine.CreateTask(ctx, "buyer@x.io", "transcribe", "", 2, 5, nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got := f.users.balance("buyer@x.io"); got != 40 {
		t.Fatalf("buyer after escrow: got %d, want 40", got)
	}

	// Both workers claim.
	subA, err := f.engine.SubmitToTask(ctx, task.ID, "a@x.io", "result A")
	if err != nil {
		t.Fatalf("claim A: %v", err)
	}
	subB, err := f.engine.SubmitToTask(ctx, task.ID, "b@x.io", "result B")
	if err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if got := f.tasks.slots(task.ID); got != 0 {
		t.Fatalf("slots: got %d, want 0", got)
	}

	// Approve A, reject B.
	if _, err := f.engine.ApproveSubmission(ctx, subA.ID, "buyer@x.io", "a@x.io", 5); err != nil {
		t.Fatalf("approve A: %v", err)
	}
	if got := f.users.balance("a@x.io"); got != 15 {
		t.Errorf("worker A balance: got %d, want 15", got)
	}
	if _, err := f.engine.RejectSubmission(ctx, subB.ID, "buyer@x.io"); err != nil {
		t.Fatalf("reject B: %v", err)
	}
	if got := f.users.balance("b@x.io"); got != 10 {
		t.Errorf("worker B balance: got %d, want 10", got)
	}
	if got := f.tasks.slots(task.ID); got != 1 {
		t.Errorf("slots after reject: got %d, want 1", got)
	}

	// Buyer deletes: one unconsumed slot refunds 5.
	refund, err := f.engine.DeleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 5 {
		t.Errorf("refund: got %d, want 5", refund)
	}
	if got := f.users.balance("buyer@x.io"); got != 45 {
		t.Errorf("buyer final balance: got %d, want 45", got)
	}

	// Conservation: the escrowed coin that paid worker A is the only
	// transfer; nothing was created or destroyed.
	if got := total(); got != minted {
		t.Errorf("coin conservation violated: minted %d, now %d", minted, got)
	}

	// Worker A cashes out.
	wd, err := f.engine.RequestWithdrawal(ctx, "a@x.io", 15, "bkash", "0171")
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if got := f.users.balance("a@x.io"); got != 0 {
		t.Errorf("worker A after request: got %d, want 0", got)
	}
	if _, err := f.engine.ApproveWithdrawal(ctx, wd.ID); err != nil {
		t.Fatalf("ApproveWithdrawal: %v", err)
	}
	// Balances + pending withdrawals == minted − disbursed.
	if got := total() + 0; got != minted-15 {
		t.Errorf("after payout: balances %d, want %d", got, minted-15)
	}
}
