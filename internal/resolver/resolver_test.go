package resolver

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
)

type fakeGameRepo struct {
	byID     map[uuid.UUID]*models.Game
	byKey    map[string]*models.Game
	byLeague map[int64]*models.Game
	lookups  int
}

func newFakeGameRepo() *fakeGameRepo {
	return &fakeGameRepo{
		byID:     map[uuid.UUID]*models.Game{},
		byKey:    map[string]*models.Game{},
		byLeague: map[int64]*models.Game{},
	}
}

func (f *fakeGameRepo) add(game *models.Game) {
	f.byID[game.ID] = game
	f.byKey[game.CanonicalKey] = game
	if game.LeagueGameID != nil {
		f.byLeague[*game.LeagueGameID] = game
	}
}

func (f *fakeGameRepo) Upsert(ctx context.Context, game *models.Game) error {
	f.add(game)
	return nil
}

func (f *fakeGameRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	f.lookups++
	if g, ok := f.byID[id]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeGameRepo) GetByCanonicalKey(ctx context.Context, key string) (*models.Game, error) {
	f.lookups++
	if g, ok := f.byKey[key]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeGameRepo) GetByLeagueGameID(ctx context.Context, leagueGameID int64) (*models.Game, error) {
	f.lookups++
	if g, ok := f.byLeague[leagueGameID]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeGameRepo) GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Game, error) {
	return nil, nil
}

func (f *fakeGameRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, status models.GameStatus, homeScore, awayScore *int) error {
	return nil
}

type fakeBookRepo struct {
	books           map[int]*models.Sportsbook
	mappings        []*models.SportsbookExternalMap
	nextID          int
	createdBooks    int
	createdMappings int
}

func newFakeBookRepo() *fakeBookRepo {
	return &fakeBookRepo{books: map[int]*models.Sportsbook{}}
}

func (f *fakeBookRepo) Create(ctx context.Context, book *models.Sportsbook) error {
	f.nextID++
	book.ID = f.nextID
	f.books[book.ID] = book
	f.createdBooks++
	return nil
}

func (f *fakeBookRepo) GetByID(ctx context.Context, id int) (*models.Sportsbook, error) {
	if b, ok := f.books[id]; ok {
		return b, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeBookRepo) GetByName(ctx context.Context, name string) (*models.Sportsbook, error) {
	for _, b := range f.books {
		if strings.EqualFold(b.Name, name) {
			return b, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeBookRepo) List(ctx context.Context) ([]*models.Sportsbook, error) { return nil, nil }

func (f *fakeBookRepo) FindMapping(ctx context.Context, source, externalID, externalName string) (*models.SportsbookExternalMap, error) {
	for _, m := range f.mappings {
		if m.Source != source {
			continue
		}
		if externalID != "" && m.ExternalID != nil && *m.ExternalID == externalID {
			return m, nil
		}
		if externalName != "" && m.ExternalName != nil && strings.EqualFold(*m.ExternalName, externalName) {
			return m, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeBookRepo) CreateMapping(ctx context.Context, mapping *models.SportsbookExternalMap) error {
	mapping.ID = int64(len(f.mappings) + 1)
	f.mappings = append(f.mappings, mapping)
	f.createdMappings++
	return nil
}

func (f *fakeBookRepo) ListMappings(ctx context.Context, source string) ([]*models.SportsbookExternalMap, error) {
	return f.mappings, nil
}

func testResolver(games *fakeGameRepo, books *fakeBookRepo, fuzzy bool) *Resolver {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(config.IdentityConfig{
		MappingCacheSize:  100,
		FuzzyMatchEnabled: fuzzy,
		CacheTTLS:         60,
	}, games, books, logrus.NewEntry(l))
}

func seedGame(games *fakeGameRepo) *models.Game {
	leagueID := int64(746789)
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	game := &models.Game{
		ID:           uuid.New(),
		CanonicalKey: models.CanonicalGameKey(date, "NYY", "BOS"),
		LeagueGameID: &leagueID,
		GameDate:     date,
		HomeTeam:     "NYY",
		AwayTeam:     "BOS",
		Status:       models.GameStatusScheduled,
	}
	games.add(game)
	return game
}

func TestResolveGameByLeagueID(t *testing.T) {
	games := newFakeGameRepo()
	want := seedGame(games)
	r := testResolver(games, newFakeBookRepo(), false)

	leagueID := int64(746789)
	got, err := r.ResolveGame(context.Background(), &leagueID, time.Time{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	// second resolution is served from cache
	before := games.lookups
	_, err = r.ResolveGame(context.Background(), &leagueID, time.Time{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, before, games.lookups)
}

func TestResolveGameByTuple(t *testing.T) {
	games := newFakeGameRepo()
	want := seedGame(games)
	r := testResolver(games, newFakeBookRepo(), false)

	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := r.ResolveGame(context.Background(), nil, date, "New York Yankees", "Boston Red Sox")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	// abbreviations work directly too
	got, err = r.ResolveGame(context.Background(), nil, date, "nyy", "bos")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestResolveGameFuzzyFallback(t *testing.T) {
	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	games := newFakeGameRepo()
	want := seedGame(games)

	r := testResolver(games, newFakeBookRepo(), true)
	got, err := r.ResolveGame(context.Background(), nil, date, "NY Yankees", "Red Sox")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	// with fuzzy matching off the same labels stay unresolved
	games2 := newFakeGameRepo()
	seedGame(games2)
	r = testResolver(games2, newFakeBookRepo(), false)
	_, err = r.ResolveGame(context.Background(), nil, date, "NY Yankees", "Red Sox")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedGame)
}

func TestResolveGameUnresolved(t *testing.T) {
	games := newFakeGameRepo()
	seedGame(games)
	r := testResolver(games, newFakeBookRepo(), true)

	date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := r.ResolveGame(context.Background(), nil, date, "Gotham Knights", "Boston Red Sox")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedGame)

	// known teams but no such game either
	_, err = r.ResolveGame(context.Background(), nil, date, "LAD", "SF")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedGame)
}

func TestTeamAbbreviation(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"NYY", "NYY", true},
		{"nyy", "NYY", true},
		{"New York Yankees", "NYY", true},
		{"St. Louis Cardinals", "STL", true},
		{"OAK", "ATH", true},
		{"CHW", "CWS", true},
		{"WAS", "WSH", true},
		{"", "", false},
		{"Gotham Knights", "", false},
	}
	for _, tc := range cases {
		got, ok := TeamAbbreviation(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestFuzzyTeamAbbreviation(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"NY Yankees", "NYY", true},
		{"D-backs", "ARI", true},
		{"Boston Red Sox", "BOS", true},
		{"white sox", "CWS", true},
		{"Cincinnati Reds", "CIN", true},
		{"Chicago", "", false},
		{"red sox vs white sox", "", false}, // ambiguous
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := FuzzyTeamAbbreviation(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestResolveSportsbookByExternalID(t *testing.T) {
	books := newFakeBookRepo()
	dk := &models.Sportsbook{Name: "draftkings", DisplayName: "DraftKings"}
	require.NoError(t, books.Create(context.Background(), dk))
	extID := "15"
	books.mappings = append(books.mappings, &models.SportsbookExternalMap{
		ID: 1, Source: "sharpsplits", ExternalID: &extID, SportsbookID: dk.ID,
	})

	r := testResolver(newFakeGameRepo(), books, false)
	got, err := r.ResolveSportsbook(context.Background(), "sharpsplits", "15", "DraftKings")
	require.NoError(t, err)
	assert.Equal(t, dk.ID, got.ID)
}

func TestResolveSportsbookPendingReviewFails(t *testing.T) {
	books := newFakeBookRepo()
	dk := &models.Sportsbook{Name: "draftkings"}
	require.NoError(t, books.Create(context.Background(), dk))
	name := "DK Sportsbook"
	books.mappings = append(books.mappings, &models.SportsbookExternalMap{
		ID: 1, Source: "wagerpct", ExternalName: &name, SportsbookID: dk.ID, NeedsReview: true,
	})

	r := testResolver(newFakeGameRepo(), books, false)
	_, err := r.ResolveSportsbook(context.Background(), "wagerpct", "", "DK Sportsbook")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedSportsbook)
}

func TestResolveSportsbookCanonicalNameFallback(t *testing.T) {
	books := newFakeBookRepo()
	circa := &models.Sportsbook{Name: "Circa Sports", DisplayName: "Circa Sports"}
	require.NoError(t, books.Create(context.Background(), circa))

	r := testResolver(newFakeGameRepo(), books, false)
	got, err := r.ResolveSportsbook(context.Background(), "wagerpct", "", "circa sports")
	require.NoError(t, err)
	assert.Equal(t, circa.ID, got.ID)

	// the match is persisted as a confident mapping
	require.Equal(t, 1, books.createdMappings)
	assert.False(t, books.mappings[0].NeedsReview)
}

func TestResolveSportsbookParksUnknownForReview(t *testing.T) {
	books := newFakeBookRepo()
	r := testResolver(newFakeGameRepo(), books, false)

	_, err := r.ResolveSportsbook(context.Background(), "oddsboard", "", "Lucky Louie's")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedSportsbook)

	// a placeholder book and a flagged mapping were parked exactly once
	require.Equal(t, 1, books.createdBooks)
	require.Equal(t, 1, books.createdMappings)
	assert.True(t, books.mappings[0].NeedsReview)
	assert.Equal(t, "lucky_louie's", books.books[1].Name)

	// retrying does not create another pair, and still fails
	_, err = r.ResolveSportsbook(context.Background(), "oddsboard", "", "Lucky Louie's")
	require.Error(t, err)
	assert.Equal(t, 1, books.createdBooks)
	assert.Equal(t, 1, books.createdMappings)
}

func TestResolveSportsbookRequiresIdentity(t *testing.T) {
	r := testResolver(newFakeGameRepo(), newFakeBookRepo(), false)
	_, err := r.ResolveSportsbook(context.Background(), "oddsfeed", "", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnresolvedSportsbook)
}
