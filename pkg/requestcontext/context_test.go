package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "careverify/pkg/domain"
)

func TestActor(t *testing.T) {
	ctx := context.Background()
	assert.True(t, ActorID(ctx).IsNil())
	assert.Equal(t, RoleSystem, ActorRole(ctx))
	assert.Equal(t, "system", ActorLabel(ctx))

	user := id.UserID(uuid.New())
	ctx = WithActor(ctx, user, RoleInsurer)
	assert.Equal(t, user, ActorID(ctx))
	assert.Equal(t, RoleInsurer, ActorRole(ctx))
	assert.Equal(t, user.String(), ActorLabel(ctx))

	ctx = WithSystemActor(ctx)
	assert.Equal(t, "system", ActorLabel(ctx))
}

func TestNow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}
