package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.storage = NewWithClient(client, DefaultConfig())
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

// User tests

func (s *StorageSuite) TestCreateAndGetUser() {
	user := &model.User{ID: "u1", Username: "alice", PasswordHash: "hash", Roles: model.RolesAll}
	s.Require().NoError(s.storage.CreateUser(s.ctx, user))

	got, err := s.storage.GetUser(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal("alice", got.Username)
	s.Equal(model.RolesAll, got.Roles)
}

func (s *StorageSuite) TestUsernameIsClaimedAtomically() {
	s.Require().NoError(s.storage.CreateUser(s.ctx, &model.User{ID: "u1", Username: "alice"}))

	err := s.storage.CreateUser(s.ctx, &model.User{ID: "u2", Username: "alice"})
	s.ErrorIs(err, model.ErrUsernameTaken)
}

func (s *StorageSuite) TestGetUserByUsername() {
	s.Require().NoError(s.storage.CreateUser(s.ctx, &model.User{ID: "u1", Username: "alice"}))

	got, err := s.storage.GetUserByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(model.UserID("u1"), got.ID)
}

func (s *StorageSuite) TestCountUsers() {
	s.Require().NoError(s.storage.CreateUser(s.ctx, &model.User{ID: "u1", Username: "alice"}))
	s.Require().NoError(s.storage.CreateUser(s.ctx, &model.User{ID: "u2", Username: "bob"}))

	count, err := s.storage.CountUsers(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, count)
}

// Character tests

func (s *StorageSuite) TestCreateAndGetCharacter() {
	c := &model.Character{
		ID: "c1", UserID: "u1", Name: "Explorer", PlaceAddress: "hall",
		Inventory: []model.ItemRef{{ID: "i1", Name: "lamp"}},
	}
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, c))

	got, err := s.storage.GetCharacter(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal("Explorer", got.Name)
	s.Len(got.Inventory, 1)
}

func (s *StorageSuite) TestGetCharacterNotFound() {
	_, err := s.storage.GetCharacter(s.ctx, "nope")
	s.ErrorIs(err, model.ErrCharacterNotFound)
}

func (s *StorageSuite) TestUpdateCharacterReindexesPlace() {
	c := &model.Character{ID: "c1", UserID: "u1", PlaceAddress: "hall"}
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, c))

	c.PlaceAddress = "garden"
	s.Require().NoError(s.storage.UpdateCharacter(s.ctx, c))

	atHall, err := s.storage.ListCharacters(s.ctx, storage.Filter{
		storage.Eq(storage.FieldPlaceAddress, model.Address("hall")),
	})
	s.Require().NoError(err)
	s.Empty(atHall)

	atGarden, err := s.storage.ListCharacters(s.ctx, storage.Filter{
		storage.Eq(storage.FieldPlaceAddress, model.Address("garden")),
	})
	s.Require().NoError(err)
	s.Len(atGarden, 1)
}

func (s *StorageSuite) TestListCharactersByUser() {
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, &model.Character{ID: "c1", UserID: "u1", PlaceAddress: "hall"}))
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, &model.Character{ID: "c2", UserID: "u2", PlaceAddress: "hall"}))

	chars, err := s.storage.ListCharacters(s.ctx, storage.Filter{
		storage.Eq(storage.FieldUserID, model.UserID("u1")),
	})
	s.Require().NoError(err)
	s.Len(chars, 1)
	s.Equal(model.CharacterID("c1"), chars[0].ID)
}

func (s *StorageSuite) TestListCharactersInPlaces() {
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, &model.Character{ID: "c1", PlaceAddress: "hall"}))
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, &model.Character{ID: "c2", PlaceAddress: "garden"}))
	s.Require().NoError(s.storage.CreateCharacter(s.ctx, &model.Character{ID: "c3", PlaceAddress: "cellar"}))

	chars, err := s.storage.ListCharacters(s.ctx, storage.Filter{
		storage.In(storage.FieldPlaceAddress, model.Address("hall"), model.Address("cellar")),
	})
	s.Require().NoError(err)
	s.Len(chars, 2)
}

// Place tests

func (s *StorageSuite) TestCreateAndGetPlace() {
	p := &model.Place{
		Address: "hall",
		Title:   "Great Hall",
		Header:  "# Welcome",
		Passages: []model.Passage{
			{TargetAddress: "garden", Name: "to the garden", Hidden: true},
		},
	}
	s.Require().NoError(s.storage.CreatePlace(s.ctx, p))

	got, err := s.storage.GetPlace(s.ctx, "hall")
	s.Require().NoError(err)
	s.Equal("Great Hall", got.Title)
	s.Require().Len(got.Passages, 1)
	s.True(got.Passages[0].Hidden)
}

func (s *StorageSuite) TestCreatePlaceConflict() {
	s.Require().NoError(s.storage.CreatePlace(s.ctx, &model.Place{Address: "hall"}))

	err := s.storage.CreatePlace(s.ctx, &model.Place{Address: "hall"})
	s.ErrorIs(err, model.ErrPlaceExists)
}

func (s *StorageSuite) TestDeletePlace() {
	s.Require().NoError(s.storage.CreatePlace(s.ctx, &model.Place{Address: "hall"}))
	s.Require().NoError(s.storage.DeletePlace(s.ctx, "hall"))

	_, err := s.storage.GetPlace(s.ctx, "hall")
	s.ErrorIs(err, model.ErrPlaceNotFound)

	err = s.storage.DeletePlace(s.ctx, "hall")
	s.ErrorIs(err, model.ErrPlaceNotFound)
}

func (s *StorageSuite) TestListAllPlaces() {
	s.Require().NoError(s.storage.CreatePlace(s.ctx, &model.Place{Address: "hall"}))
	s.Require().NoError(s.storage.CreatePlace(s.ctx, &model.Place{Address: "garden"}))

	places, err := s.storage.ListPlaces(s.ctx, storage.Filter{})
	s.Require().NoError(err)
	s.Len(places, 2)
}
