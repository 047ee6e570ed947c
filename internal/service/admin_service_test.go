package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/idgate/idgate/internal/models"
	"github.com/idgate/idgate/internal/repository"
	"github.com/idgate/idgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type adminFixture struct {
	users    *repository.MemoryUserRepository
	notifier *MockNotifier
	service  *AdminService
	admin    *models.User
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{
		users:    repository.NewMemoryUserRepository(),
		notifier: &MockNotifier{},
	}
	f.service = NewAdminService(f.users, storage.NewMemoryStore(), f.notifier, time.Second, testLogger())
	f.admin = f.seed(t, "admin", "Admin", "admin@example.com", "+8801711999999", true)
	return f
}

func (f *adminFixture) seed(t *testing.T, id, name, email, phone string, admin bool) *models.User {
	t.Helper()
	user := &models.User{
		ID:        id,
		Name:      name,
		Email:     email,
		Phone:     phone,
		IsAdmin:   admin,
		CreatedAt: time.Now(),
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func TestParseVerificationFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    VerificationFilter
		wantErr bool
	}{
		{"", FilterAll, false},
		{"all", FilterAll, false},
		{"true", FilterVerified, false},
		{"TRUE", FilterVerified, false},
		{"false", FilterUnverified, false},
		{"unverified", FilterUnverified, false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		got, err := ParseVerificationFilter(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.Equal(t, KindValidation, KindOf(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestListUsersPartition(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "One", "one@example.com", "+8801711000011", false)
	f.seed(t, "u2", "Two", "two@example.com", "+8801711000012", false)
	f.seed(t, "u3", "Three", "three@example.com", "+8801711000013", false)

	f.notifier.On("SendVerificationApproved", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err := f.service.SetVerification(ctx, f.admin, "u2", true)
	require.NoError(t, err)

	ids := func(views []models.AdminUserView) []string {
		out := make([]string, 0, len(views))
		for _, v := range views {
			out = append(out, v.ID)
		}
		return out
	}

	all, err := f.service.ListUsers(ctx, f.admin, FilterAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "u1", "u2", "u3"}, ids(all))

	verified, err := f.service.ListUsers(ctx, f.admin, FilterVerified)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(verified))

	unverified, err := f.service.ListUsers(ctx, f.admin, FilterUnverified)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "u1", "u3"}, ids(unverified))

	assert.Len(t, all, len(verified)+len(unverified))
}

func TestNonAdminIsForbidden(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	user := f.seed(t, "u1", "One", "one@example.com", "+8801711000011", false)

	_, err := f.service.ListUsers(ctx, user, FilterAll)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.service.SetVerification(ctx, user, "u1", true)
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = f.service.ListUsers(ctx, nil, FilterAll)
	assert.Equal(t, KindForbidden, KindOf(err))

	stored, err := f.users.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	f.notifier.AssertNotCalled(t, "SendVerificationApproved", mock.Anything, mock.Anything, mock.Anything)
}

func TestSetVerificationUnknownUser(t *testing.T) {
	f := newAdminFixture(t)

	_, err := f.service.SetVerification(context.Background(), f.admin, "missing", true)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSetVerificationNotifiesOnTransitionsOnly(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "One", "one@example.com", "+8801711000011", false)

	f.notifier.On("SendVerificationApproved", mock.Anything, "one@example.com", "One").Return(nil)
	f.notifier.On("SendVerificationDisapproved", mock.Anything, "one@example.com", "One").Return(nil)

	steps := []struct {
		approve bool
	}{
		{false}, // unverified -> unverified
		{true},  // approve
		{true},  // already approved
		{false}, // revoke
		{false}, // already revoked
		{true},  // approve again
	}
	for _, step := range steps {
		user, err := f.service.SetVerification(ctx, f.admin, "u1", step.approve)
		require.NoError(t, err)
		assert.Equal(t, step.approve, user.IsVerified)
	}

	f.notifier.AssertNumberOfCalls(t, "SendVerificationApproved", 2)
	f.notifier.AssertNumberOfCalls(t, "SendVerificationDisapproved", 1)
}

func TestSetVerificationSwallowsNotificationFailure(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.seed(t, "u1", "One", "one@example.com", "+8801711000011", false)

	f.notifier.On("SendVerificationApproved", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("mail server unavailable"))

	user, err := f.service.SetVerification(ctx, f.admin, "u1", true)
	require.NoError(t, err)
	assert.True(t, user.IsVerified)

	stored, err := f.users.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	f.notifier.AssertExpectations(t)
}

func TestListUsersIncludesDocumentLinks(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	documents := storage.NewMemoryStore()
	service := NewAdminService(users, documents, &MockNotifier{}, time.Second, testLogger())
	ctx := context.Background()

	admin := &models.User{ID: "admin", Email: "admin@example.com", Phone: "+8801711999999", IsAdmin: true}
	require.NoError(t, users.Create(ctx, admin))

	f := newAuthFixture(t)
	f.users = users
	f.documents = documents
	f.service.users = users
	f.service.documents = documents
	registered := f.register(t, "Alice", "alice@example.com", alicePhone)

	views, err := service.ListUsers(ctx, admin, FilterUnverified)
	require.NoError(t, err)
	require.Len(t, views, 2)

	alice := views[1]
	assert.Equal(t, registered.ID, alice.ID)
	assert.Equal(t, "memory://users/"+registered.ID+"/nid-front", alice.NIDFrontURL)
	assert.Equal(t, "memory://users/"+registered.ID+"/nid-back", alice.NIDBackURL)
	assert.Empty(t, views[0].NIDFrontURL)
}
