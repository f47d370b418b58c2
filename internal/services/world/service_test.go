package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tinymud/tinymud/internal/cache"
	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/storage/memory"
	"github.com/tinymud/tinymud/internal/testutil"
)

type ServiceSuite struct {
	suite.Suite
	storage *memory.Storage
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.storage = memory.New()
	entityCache := cache.New(s.storage, testutil.NopLogger())
	s.service = New(entityCache, Config{}, testutil.NopLogger())
	s.ctx = context.Background()
	s.Require().NoError(s.service.EnsureStartPlace(s.ctx))
}

// User tests

func (s *ServiceSuite) TestFirstUserGetsAllRoles() {
	first, err := s.service.CreateUser(s.ctx, "alice", "hash")
	s.Require().NoError(err)
	s.Equal(model.RolesAll, first.Roles)

	second, err := s.service.CreateUser(s.ctx, "bob", "hash")
	s.Require().NoError(err)
	s.Equal(model.RolePlayer, second.Roles)
	s.False(second.Roles.Has(model.RoleEditor))
}

func (s *ServiceSuite) TestDuplicateUsernameRejected() {
	_, err := s.service.CreateUser(s.ctx, "alice", "hash")
	s.Require().NoError(err)

	_, err = s.service.CreateUser(s.ctx, "alice", "hash")
	s.ErrorIs(err, model.ErrUsernameTaken)
}

func (s *ServiceSuite) TestEmptyUsernameRejected() {
	_, err := s.service.CreateUser(s.ctx, "   ", "hash")
	s.ErrorIs(err, model.ErrEmptyName)
}

// Character tests

func (s *ServiceSuite) TestCreateCharacterStartsAtStartPlace() {
	user, err := s.service.CreateUser(s.ctx, "alice", "hash")
	s.Require().NoError(err)

	char, err := s.service.CreateCharacter(s.ctx, user.ID, "Explorer")
	s.Require().NoError(err)
	s.Equal(s.service.StartAddress(), char.PlaceAddress)
	s.Equal(user.ID, char.UserID)
}

func (s *ServiceSuite) TestCharacterForUser() {
	user, err := s.service.CreateUser(s.ctx, "alice", "hash")
	s.Require().NoError(err)

	_, err = s.service.CharacterForUser(s.ctx, user.ID)
	s.ErrorIs(err, model.ErrCharacterNotFound)

	created, err := s.service.CreateCharacter(s.ctx, user.ID, "Explorer")
	s.Require().NoError(err)

	found, err := s.service.CharacterForUser(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(created.ID, found.ID)
}

func (s *ServiceSuite) TestCharactersAt() {
	user, err := s.service.CreateUser(s.ctx, "alice", "hash")
	s.Require().NoError(err)
	char, err := s.service.CreateCharacter(s.ctx, user.ID, "Explorer")
	s.Require().NoError(err)

	here, err := s.service.CharactersAt(s.ctx, s.service.StartAddress())
	s.Require().NoError(err)
	s.Len(here, 1)
	s.Equal(char.ID, here[0].ID)

	elsewhere, err := s.service.CharactersAt(s.ctx, "empty.room")
	s.Require().NoError(err)
	s.Empty(elsewhere)
}

// Movement tests

func (s *ServiceSuite) makeCharacter(username string) *model.Character {
	user, err := s.service.CreateUser(s.ctx, username, "hash")
	s.Require().NoError(err)
	char, err := s.service.CreateCharacter(s.ctx, user.ID, username)
	s.Require().NoError(err)
	return char
}

func (s *ServiceSuite) linkStartTo(target model.Address, hidden bool) {
	_, err := s.service.EditPlace(s.ctx, s.service.StartAddress(), "Start", "",
		[]model.Passage{{TargetAddress: target, Name: "a door", Hidden: hidden}})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestUsePassageMovesCharacter() {
	char := s.makeCharacter("alice")
	_, err := s.service.CreatePlace(s.ctx, "garden")
	s.Require().NoError(err)
	s.linkStartTo("garden", false)

	moved, from, err := s.service.UsePassage(s.ctx, char.ID, "garden")
	s.Require().NoError(err)
	s.Equal(s.service.StartAddress(), from)
	s.Equal(model.Address("garden"), moved.PlaceAddress)
}

func (s *ServiceSuite) TestUsePassageThroughHiddenPassage() {
	char := s.makeCharacter("alice")
	_, err := s.service.CreatePlace(s.ctx, "cellar")
	s.Require().NoError(err)
	s.linkStartTo("cellar", true)

	moved, _, err := s.service.UsePassage(s.ctx, char.ID, "cellar")
	s.Require().NoError(err)
	s.Equal(model.Address("cellar"), moved.PlaceAddress)
}

func (s *ServiceSuite) TestUsePassageWithoutPassage() {
	char := s.makeCharacter("alice")
	_, err := s.service.CreatePlace(s.ctx, "garden")
	s.Require().NoError(err)

	_, _, err = s.service.UsePassage(s.ctx, char.ID, "garden")
	s.ErrorIs(err, model.ErrPassageNotFound)

	unchanged, err := s.service.GetCharacter(s.ctx, char.ID)
	s.Require().NoError(err)
	s.Equal(s.service.StartAddress(), unchanged.PlaceAddress)
}

func (s *ServiceSuite) TestUsePassageToDanglingTarget() {
	char := s.makeCharacter("alice")
	s.linkStartTo("not.built.yet", false)

	_, _, err := s.service.UsePassage(s.ctx, char.ID, "not.built.yet")
	s.ErrorIs(err, model.ErrPlaceNotFound)
}

func (s *ServiceSuite) TestTeleportIgnoresPassagesAndExistence() {
	char := s.makeCharacter("alice")

	moved, from, err := s.service.Teleport(s.ctx, char.ID, "not.built.yet")
	s.Require().NoError(err)
	s.Equal(s.service.StartAddress(), from)
	s.Equal(model.Address("not.built.yet"), moved.PlaceAddress)
}

func (s *ServiceSuite) TestTeleportRejectsBadAddress() {
	char := s.makeCharacter("alice")

	_, _, err := s.service.Teleport(s.ctx, char.ID, "Not An Address")
	s.ErrorIs(err, model.ErrInvalidAddress)
}

// Place tests

func (s *ServiceSuite) TestEditPlaceReplacesPassageSet() {
	_, err := s.service.CreatePlace(s.ctx, "hall")
	s.Require().NoError(err)

	_, err = s.service.EditPlace(s.ctx, "hall", "Hall", "", []model.Passage{
		{TargetAddress: "garden"},
		{TargetAddress: "cellar"},
	})
	s.Require().NoError(err)

	edited, err := s.service.EditPlace(s.ctx, "hall", "Hall", "# hi", []model.Passage{
		{TargetAddress: "attic"},
	})
	s.Require().NoError(err)
	s.Len(edited.Passages, 1)
	s.Equal(model.Address("attic"), edited.Passages[0].TargetAddress)
}

func (s *ServiceSuite) TestEditPlaceAllowsDanglingTargets() {
	_, err := s.service.CreatePlace(s.ctx, "hall")
	s.Require().NoError(err)

	edited, err := s.service.EditPlace(s.ctx, "hall", "Hall", "", []model.Passage{
		{TargetAddress: "never.created"},
	})
	s.Require().NoError(err)
	s.Len(edited.Passages, 1)
}

func (s *ServiceSuite) TestEditPlaceRejectsBadPassageTarget() {
	_, err := s.service.CreatePlace(s.ctx, "hall")
	s.Require().NoError(err)

	_, err = s.service.EditPlace(s.ctx, "hall", "Hall", "", []model.Passage{
		{TargetAddress: "NOT VALID"},
	})
	s.ErrorIs(err, model.ErrInvalidAddress)
}

func (s *ServiceSuite) TestEditPlaceHeaderRoundTripsLosslessly() {
	_, err := s.service.CreatePlace(s.ctx, "hall")
	s.Require().NoError(err)

	header := "# Hall\n\n  indented *markup* <tags> stay as-is\t\n"
	_, err = s.service.EditPlace(s.ctx, "hall", "Hall", header, nil)
	s.Require().NoError(err)

	got, err := s.service.GetPlace(s.ctx, "hall")
	s.Require().NoError(err)
	s.Equal(header, got.Header)
}

func (s *ServiceSuite) TestCreatePlaceConflict() {
	_, err := s.service.CreatePlace(s.ctx, "hall")
	s.Require().NoError(err)

	_, err = s.service.CreatePlace(s.ctx, "hall")
	s.ErrorIs(err, model.ErrPlaceExists)
}

func (s *ServiceSuite) TestDestroyPlaceLeavesCharactersDangling() {
	char := s.makeCharacter("alice")
	_, err := s.service.CreatePlace(s.ctx, "garden")
	s.Require().NoError(err)
	s.linkStartTo("garden", false)
	_, _, err = s.service.UsePassage(s.ctx, char.ID, "garden")
	s.Require().NoError(err)

	s.Require().NoError(s.service.DestroyPlace(s.ctx, "garden"))

	stranded, err := s.service.GetCharacter(s.ctx, char.ID)
	s.Require().NoError(err)
	s.Equal(model.Address("garden"), stranded.PlaceAddress)

	_, err = s.service.GetPlace(s.ctx, "garden")
	s.ErrorIs(err, model.ErrPlaceNotFound)
}

func (s *ServiceSuite) TestEnsureStartPlaceIsIdempotent() {
	s.Require().NoError(s.service.EnsureStartPlace(s.ctx))
	s.Require().NoError(s.service.EnsureStartPlace(s.ctx))

	place, err := s.service.GetPlace(s.ctx, s.service.StartAddress())
	s.Require().NoError(err)
	s.NotEmpty(place.Title)
}
