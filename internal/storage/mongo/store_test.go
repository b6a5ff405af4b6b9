package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/alumnichat/internal/model"
	"github.com/alumnichat/internal/storage"
	"github.com/alumnichat/internal/storage/storagetest"
)

// Нужен живой MongoDB: MONGO_TEST_URI=mongodb://localhost:27017
func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := Connect(ctx, uri, "alumnichat_test_"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.users.Database().Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestConversationsPipeline_Shape(t *testing.T) {
	p := conversationsPipeline("u1")
	require.Len(t, p, 4)
	assert.Equal(t, "$match", p[0][0].Key)
	assert.Equal(t, "$group", p[3][0].Key)
	group := p[3][0].Value.(bson.M)
	assert.Equal(t, "$peer_id", group["_id"])
}

func TestRoomDoc_AttributeOnlyForAttributeRooms(t *testing.T) {
	cohort := toRoomDoc(&model.Room{ID: "r1", Scope: model.CohortScope{Cohort: "2019"}})
	assert.Equal(t, "2019", cohort.Attribute)
	assert.Equal(t, "2019", cohort.Cohort)

	custom := toRoomDoc(&model.Room{ID: "r2", Scope: model.CustomScope{Participants: []string{"a"}}})
	assert.Empty(t, custom.Attribute)

	raw, err := bson.Marshal(custom)
	require.NoError(t, err)
	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	_, has := m["attribute"]
	assert.False(t, has)
	assert.Equal(t, "r2", m["_id"])
}
