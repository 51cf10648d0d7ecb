package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
	"github.com/yourusername/line-drive/internal/sharp"
)

// ---------------------------------------------------------------------------
// In-memory repositories

type memRawRepo struct {
	rows  map[string]*models.RawRecord
	order []string
}

var _ repository.RawRecordRepository = (*memRawRepo)(nil)

func newMemRawRepo() *memRawRepo {
	return &memRawRepo{rows: map[string]*models.RawRecord{}}
}

func (m *memRawRepo) InsertBatch(ctx context.Context, records []*models.RawRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		key := rec.IdempotencyKey()
		if _, ok := m.rows[key]; ok {
			continue
		}
		cp := *rec
		m.rows[key] = &cp
		m.order = append(m.order, key)
		inserted++
	}
	return inserted, nil
}

func (m *memRawRepo) Window(ctx context.Context, source string, start, end time.Time) ([]*models.RawRecord, error) {
	var out []*models.RawRecord
	for _, key := range m.order {
		rec := m.rows[key]
		if rec.Source != source {
			continue
		}
		if rec.OddsTimestamp.Before(start) || !rec.OddsTimestamp.Before(end) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OddsTimestamp.Before(out[j].OddsTimestamp) })
	return out, nil
}

func (m *memRawRepo) CountBySource(ctx context.Context, source string) (int64, error) {
	var n int64
	for _, rec := range m.rows {
		if rec.Source == source {
			n++
		}
	}
	return n, nil
}

func (m *memRawRepo) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	var deleted int64
	keep := m.order[:0]
	for _, key := range m.order {
		rec := m.rows[key]
		if rec.Source == source && rec.OddsTimestamp.Before(cutoff) {
			delete(m.rows, key)
			deleted++
			continue
		}
		keep = append(keep, key)
	}
	m.order = keep
	return deleted, nil
}

type memLineRepo struct {
	mu      sync.Mutex
	staging map[models.Market]map[string]*models.BettingLine
	curated map[models.Market]map[string]*models.BettingLine
	seq     int64
}

var _ repository.BettingLineRepository = (*memLineRepo)(nil)

func newMemLineRepo() *memLineRepo {
	m := &memLineRepo{
		staging: map[models.Market]map[string]*models.BettingLine{},
		curated: map[models.Market]map[string]*models.BettingLine{},
	}
	for _, market := range curatedMarkets {
		m.staging[market] = map[string]*models.BettingLine{}
		m.curated[market] = map[string]*models.BettingLine{}
	}
	return m
}

func memKey(l *models.BettingLine) string {
	return fmt.Sprintf("%s|%d|%d", l.GameID, l.SportsbookID, l.OddsTimestamp.UnixMicro())
}

func (m *memLineRepo) UpsertStaging(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, line := range lines {
		key := memKey(line)
		cur, ok := m.staging[market][key]
		if !ok {
			cp := *line
			m.seq++
			cp.IngestSeq = m.seq
			m.staging[market][key] = &cp
			written++
			continue
		}
		if line.ReliabilityScore > cur.ReliabilityScore ||
			(line.ReliabilityScore == cur.ReliabilityScore && line.Source < cur.Source) {
			cp := *line
			cp.ID = cur.ID
			cp.IngestSeq = cur.IngestSeq
			m.staging[market][key] = &cp
			written++
		}
	}
	return written, nil
}

func (m *memLineRepo) UpsertCurated(ctx context.Context, market models.Market, lines []*models.BettingLine) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, line := range lines {
		key := memKey(line)
		cur, ok := m.curated[market][key]
		if !ok {
			cp := *line
			m.curated[market][key] = &cp
			written++
			continue
		}
		// signal flags apply regardless of the content gate; rlm and steam
		// only ever accumulate
		if line.SharpActionTag != nil {
			cur.SharpActionTag = line.SharpActionTag
		}
		cur.RLM = cur.RLM || line.RLM
		cur.Steam = cur.Steam || line.Steam
		if line.DataQuality.Rank() > cur.DataQuality.Rank() ||
			(line.DataQuality.Rank() == cur.DataQuality.Rank() && line.ReliabilityScore > cur.ReliabilityScore) {
			cp := *line
			cp.ID = cur.ID
			cp.IsOpening = cur.IsOpening
			cp.IsClosing = cur.IsClosing
			cp.RLM = cur.RLM
			cp.Steam = cur.Steam
			cp.SharpActionTag = cur.SharpActionTag
			m.curated[market][key] = &cp
			written++
		}
	}
	return written, nil
}

func (m *memLineRepo) windowOf(tbl map[string]*models.BettingLine, start, end time.Time) []*models.BettingLine {
	var out []*models.BettingLine
	for _, line := range tbl {
		if line.OddsTimestamp.Before(start) || !line.OddsTimestamp.Before(end) {
			continue
		}
		cp := *line
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.GameID != b.GameID {
			return a.GameID.String() < b.GameID.String()
		}
		if a.SportsbookID != b.SportsbookID {
			return a.SportsbookID < b.SportsbookID
		}
		if !a.OddsTimestamp.Equal(b.OddsTimestamp) {
			return a.OddsTimestamp.Before(b.OddsTimestamp)
		}
		return a.IngestSeq < b.IngestSeq
	})
	return out
}

func (m *memLineRepo) StagingWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowOf(m.staging[market], start, end), nil
}

func (m *memLineRepo) CuratedWindow(ctx context.Context, market models.Market, start, end time.Time) ([]*models.BettingLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowOf(m.curated[market], start, end), nil
}

func (m *memLineRepo) CuratedMovement(ctx context.Context, market models.Market, gameID uuid.UUID, sportsbookID int) ([]*models.BettingLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BettingLine
	for _, line := range m.curated[market] {
		if line.GameID == gameID && line.SportsbookID == sportsbookID {
			cp := *line
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OddsTimestamp.Before(out[j].OddsTimestamp) })
	return out, nil
}

func (m *memLineRepo) CuratedCount(ctx context.Context, market models.Market) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.curated[market])), nil
}

func (m *memLineRepo) RefreshOpenings(ctx context.Context, market models.Market, gameIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range gameIDs {
		want[id] = true
	}
	minTS := map[string]time.Time{}
	for _, line := range m.curated[market] {
		if !want[line.GameID] {
			continue
		}
		key := fmt.Sprintf("%s|%d", line.GameID, line.SportsbookID)
		if cur, ok := minTS[key]; !ok || line.OddsTimestamp.Before(cur) {
			minTS[key] = line.OddsTimestamp
		}
	}
	for _, line := range m.curated[market] {
		if !want[line.GameID] {
			continue
		}
		key := fmt.Sprintf("%s|%d", line.GameID, line.SportsbookID)
		line.IsOpening = line.OddsTimestamp.Equal(minTS[key])
	}
	return nil
}

func (m *memLineRepo) MarkClosings(ctx context.Context, market models.Market, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxTS := map[int]time.Time{}
	for _, line := range m.curated[market] {
		if line.GameID != gameID {
			continue
		}
		if cur, ok := maxTS[line.SportsbookID]; !ok || line.OddsTimestamp.After(cur) {
			maxTS[line.SportsbookID] = line.OddsTimestamp
		}
	}
	for _, line := range m.curated[market] {
		if line.GameID != gameID {
			continue
		}
		line.IsClosing = line.OddsTimestamp.Equal(maxTS[line.SportsbookID])
	}
	return nil
}

type memQuarantineRepo struct {
	rows []*models.QuarantinedRecord
}

var _ repository.QuarantineRepository = (*memQuarantineRepo)(nil)

func (m *memQuarantineRepo) Insert(ctx context.Context, rec *models.QuarantinedRecord) error {
	for _, cur := range m.rows {
		if cur.RawRecordID == rec.RawRecordID && cur.Reason == rec.Reason {
			cur.Detail = rec.Detail
			return nil
		}
	}
	cp := *rec
	cp.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memQuarantineRepo) GetPending(ctx context.Context, reason string, limit int) ([]*models.QuarantinedRecord, error) {
	var out []*models.QuarantinedRecord
	for _, rec := range m.rows {
		if rec.IsResolved() || (reason != "" && rec.Reason != reason) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memQuarantineRepo) MarkResolved(ctx context.Context, id uuid.UUID) error {
	for _, rec := range m.rows {
		if rec.ID == id {
			now := time.Now().UTC()
			rec.ResolvedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memQuarantineRepo) Touch(ctx context.Context, id uuid.UUID) error {
	for _, rec := range m.rows {
		if rec.ID == id {
			rec.Attempts++
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memQuarantineRepo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	for _, rec := range m.rows {
		if !rec.IsResolved() {
			n++
		}
	}
	return n, nil
}

type memRunRepo struct {
	runs map[uuid.UUID]*models.PipelineRun
}

var _ repository.PipelineRunRepository = (*memRunRepo)(nil)

func (m *memRunRepo) Create(ctx context.Context, run *models.PipelineRun) error {
	if m.runs == nil {
		m.runs = map[uuid.UUID]*models.PipelineRun{}
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRunRepo) Finish(ctx context.Context, run *models.PipelineRun) error {
	if _, ok := m.runs[run.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	if run, ok := m.runs[id]; ok {
		return run, nil
	}
	return nil, models.ErrNotFound
}

func (m *memRunRepo) GetRecent(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	var out []*models.PipelineRun
	for _, run := range m.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAttemptRepo struct {
	attempts []*models.CollectionAttempt
}

var _ repository.AttemptRepository = (*memAttemptRepo)(nil)

func (m *memAttemptRepo) InsertBatch(ctx context.Context, attempts []*models.CollectionAttempt) error {
	m.attempts = append(m.attempts, attempts...)
	return nil
}

func (m *memAttemptRepo) Window(ctx context.Context, name string, start, end time.Time) ([]*models.CollectionAttempt, error) {
	var out []*models.CollectionAttempt
	for _, a := range m.attempts {
		if a.Collector == name && !a.StartedAt.Before(start) && a.StartedAt.Before(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAttemptRepo) DailyStats(ctx context.Context, name string, since time.Time) ([]repository.DailyAttemptStat, error) {
	return nil, nil
}

func (m *memAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	keep := m.attempts[:0]
	for _, a := range m.attempts {
		if a.StartedAt.Before(cutoff) {
			deleted++
			continue
		}
		keep = append(keep, a)
	}
	m.attempts = keep
	return deleted, nil
}

type memGameRepo struct {
	byID     map[uuid.UUID]*models.Game
	byKey    map[string]*models.Game
	byLeague map[int64]*models.Game
}

var _ repository.GameRepository = (*memGameRepo)(nil)

func newMemGameRepo() *memGameRepo {
	return &memGameRepo{
		byID:     map[uuid.UUID]*models.Game{},
		byKey:    map[string]*models.Game{},
		byLeague: map[int64]*models.Game{},
	}
}

func (m *memGameRepo) Upsert(ctx context.Context, game *models.Game) error {
	if cur, ok := m.byKey[game.CanonicalKey]; ok {
		// the canonical row keeps its id; the caller sees it
		game.ID = cur.ID
		if game.LeagueGameID != nil {
			cur.LeagueGameID = game.LeagueGameID
			m.byLeague[*game.LeagueGameID] = cur
		}
		cur.ScheduledStartUTC = game.ScheduledStartUTC
		cur.ScheduledStartEast = game.ScheduledStartEast
		cur.Status = game.Status
		return nil
	}
	cp := *game
	m.byID[cp.ID] = &cp
	m.byKey[cp.CanonicalKey] = &cp
	if cp.LeagueGameID != nil {
		m.byLeague[*cp.LeagueGameID] = &cp
	}
	return nil
}

func (m *memGameRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	if g, ok := m.byID[id]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (m *memGameRepo) GetByCanonicalKey(ctx context.Context, key string) (*models.Game, error) {
	if g, ok := m.byKey[key]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (m *memGameRepo) GetByLeagueGameID(ctx context.Context, leagueGameID int64) (*models.Game, error) {
	if g, ok := m.byLeague[leagueGameID]; ok {
		return g, nil
	}
	return nil, models.ErrNotFound
}

func (m *memGameRepo) GetByDateRange(ctx context.Context, start, end time.Time) ([]*models.Game, error) {
	var out []*models.Game
	for _, g := range m.byID {
		if !g.GameDate.Before(start) && g.GameDate.Before(end) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGameRepo) UpdateOutcome(ctx context.Context, id uuid.UUID, status models.GameStatus, homeScore, awayScore *int) error {
	g, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	g.Status = status
	g.HomeScore = homeScore
	g.AwayScore = awayScore
	return nil
}

type memBookRepo struct {
	books    map[int]*models.Sportsbook
	mappings []*models.SportsbookExternalMap
	nextID   int
}

var _ repository.SportsbookRepository = (*memBookRepo)(nil)

func newMemBookRepo() *memBookRepo {
	return &memBookRepo{books: map[int]*models.Sportsbook{}}
}

func (m *memBookRepo) Create(ctx context.Context, book *models.Sportsbook) error {
	m.nextID++
	book.ID = m.nextID
	m.books[book.ID] = book
	return nil
}

func (m *memBookRepo) GetByID(ctx context.Context, id int) (*models.Sportsbook, error) {
	if b, ok := m.books[id]; ok {
		return b, nil
	}
	return nil, models.ErrNotFound
}

func (m *memBookRepo) GetByName(ctx context.Context, name string) (*models.Sportsbook, error) {
	for _, b := range m.books {
		if strings.EqualFold(b.Name, name) {
			return b, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memBookRepo) List(ctx context.Context) ([]*models.Sportsbook, error) { return nil, nil }

func (m *memBookRepo) FindMapping(ctx context.Context, source, externalID, externalName string) (*models.SportsbookExternalMap, error) {
	for _, mp := range m.mappings {
		if mp.Source != source {
			continue
		}
		if externalID != "" && mp.ExternalID != nil && *mp.ExternalID == externalID {
			return mp, nil
		}
		if externalName != "" && mp.ExternalName != nil && strings.EqualFold(*mp.ExternalName, externalName) {
			return mp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memBookRepo) CreateMapping(ctx context.Context, mapping *models.SportsbookExternalMap) error {
	mapping.ID = int64(len(m.mappings) + 1)
	m.mappings = append(m.mappings, mapping)
	return nil
}

func (m *memBookRepo) ListMappings(ctx context.Context, source string) ([]*models.SportsbookExternalMap, error) {
	return m.mappings, nil
}

// ---------------------------------------------------------------------------
// Test sources: the payload is simply the JSON of the provisional records it
// parses to, which keeps zone tests independent of any real source format.

type echoParser struct{}

func (echoParser) Parse(rec *models.RawRecord) ([]collector.ProvisionalRecord, error) {
	var provs []collector.ProvisionalRecord
	if err := json.Unmarshal(rec.Payload, &provs); err != nil {
		return nil, err
	}
	return provs, nil
}

type stubCollector struct {
	echoParser
	name    string
	records []*models.RawRecord
	err     error
}

var _ collector.Collector = (*stubCollector)(nil)

func (s *stubCollector) Name() string  { return s.name }
func (s *stubCollector) Enabled() bool { return true }
func (s *stubCollector) Collect(ctx context.Context, start, end time.Time) ([]*models.RawRecord, error) {
	return s.records, s.err
}
func (s *stubCollector) HealthProbe(ctx context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Harness

type pipelineHarness struct {
	cfg      *config.PipelineConfig
	logger   *logrus.Logger
	rawRepo  *memRawRepo
	lineRepo *memLineRepo
	gameRepo *memGameRepo
	bookRepo *memBookRepo
	quarRepo *memQuarantineRepo
	runRepo  *memRunRepo
	attRepo  *memAttemptRepo
	res      *resolver.Resolver
	rawProc  *RawProcessor
	staging  *StagingProcessor
	curated  *CuratedProcessor
	reviver  *Reviver
}

func newHarness(reliability map[string]float64) *pipelineHarness {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.PipelineConfig{
		RawEnabled:         true,
		StagingEnabled:     true,
		CuratedEnabled:     true,
		ZoneWorkerPoolSize: 2,
		QueueCapacity:      64,
		BatchSize:          50,
		ErrorRateThresholds: config.ErrorRateThresholds{
			Raw:     0.01,
			Staging: 0.05,
			Curated: 0.01,
		},
		ClockSkewToleranceS: 60,
		BackpressureHigh:    0.8,
		Sharp: config.SharpConfig{
			DivergenceThreshold: 15,
			PublicFadeBetsPct:   75,
			PublicFadeMoneyPct:  60,
			RLMWindowS:          3600,
			SteamWindowS:        300,
			SteamBookRatio:      0.7,
			MoneylineTick:       5,
			LineTick:            0.5,
		},
	}

	h := &pipelineHarness{
		cfg:      cfg,
		logger:   logger,
		rawRepo:  newMemRawRepo(),
		lineRepo: newMemLineRepo(),
		gameRepo: newMemGameRepo(),
		bookRepo: newMemBookRepo(),
		quarRepo: &memQuarantineRepo{},
		runRepo:  &memRunRepo{},
		attRepo:  &memAttemptRepo{},
	}
	h.res = resolver.New(config.IdentityConfig{
		MappingCacheSize:  1000,
		FuzzyMatchEnabled: true,
		CacheTTLS:         60,
	}, h.gameRepo, h.bookRepo, logrus.NewEntry(logger))

	parsers := map[string]collector.Parser{}
	for source := range reliability {
		parsers[source] = echoParser{}
	}

	h.rawProc = NewRawProcessor(h.rawRepo, cfg, logger)
	h.staging = NewStagingProcessor(parsers, h.res, h.rawRepo, h.lineRepo, h.gameRepo, h.quarRepo, reliability, cfg, nil, logger)
	h.curated = NewCuratedProcessor(h.lineRepo, sharp.New(cfg.Sharp), cfg, logger)
	h.reviver = NewReviver(h.res, h.quarRepo, h.lineRepo, h.gameRepo, reliability, nil, logger)
	return h
}

func (h *pipelineHarness) orchestrator(collectors ...collector.Collector) *Orchestrator {
	return NewOrchestrator(h.cfg, collectors, h.rawProc, h.staging, h.curated, h.runRepo, h.attRepo, nil, h.logger)
}

func (h *pipelineHarness) seedGame(leagueID int64, date time.Time, home, away string) *models.Game {
	game := &models.Game{
		ID:                 uuid.New(),
		CanonicalKey:       models.CanonicalGameKey(date, home, away),
		LeagueGameID:       &leagueID,
		GameDate:           date,
		ScheduledStartUTC:  date.Add(19 * time.Hour),
		ScheduledStartEast: date.Add(19 * time.Hour).In(models.Eastern()),
		HomeTeam:           home,
		AwayTeam:           away,
		Status:             models.GameStatusScheduled,
	}
	_ = h.gameRepo.Upsert(context.Background(), game)
	return game
}

func (h *pipelineHarness) seedBook(source, externalID, name string) *models.Sportsbook {
	book := &models.Sportsbook{Name: name, DisplayName: name}
	_ = h.bookRepo.Create(context.Background(), book)
	extID := externalID
	_ = h.bookRepo.CreateMapping(context.Background(), &models.SportsbookExternalMap{
		Source:       source,
		ExternalID:   &extID,
		SportsbookID: book.ID,
	})
	return book
}

func rawFor(source, externalID string, ts time.Time, provs ...collector.ProvisionalRecord) *models.RawRecord {
	payload, _ := json.Marshal(provs)
	return &models.RawRecord{
		ID:            uuid.New(),
		Source:        source,
		ExternalID:    externalID,
		OddsTimestamp: ts,
		FetchedAt:     ts,
		Payload:       payload,
		BatchID:       uuid.New(),
		ParseStatus:   models.ParseStatusParsed,
	}
}

func mlProv(source string, ts time.Time, leagueID int64, extBook string, home, away int) collector.ProvisionalRecord {
	prov := collector.ProvisionalRecord{
		Kind:                 collector.KindLine,
		Source:               source,
		ExternalID:           fmt.Sprintf("%s-%d", source, ts.UnixMicro()),
		OddsTimestamp:        ts,
		Market:               models.MarketMoneyline,
		SportsbookExternalID: extBook,
		HomePrice:            &home,
		AwayPrice:            &away,
	}
	if leagueID != 0 {
		prov.LeagueGameID = &leagueID
	}
	return prov
}

var gameDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Scenarios

func TestPipelineFullRunHappyPath(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	game := h.seedGame(746789, gameDate, "NYY", "BOS")
	book := h.seedBook("oddsfeed", "15", "draftkings")

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := mlProv("oddsfeed", ts, 746789, "15", -140, 120)
	src := &stubCollector{name: "oddsfeed", records: []*models.RawRecord{rawFor("oddsfeed", "ev-1", ts, prov)}}

	run, err := h.orchestrator(src).Run(context.Background(),
		models.RunModeFull, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)

	require.Contains(t, run.Zones, models.ZoneRaw)
	assert.Equal(t, 1, run.Zones[models.ZoneRaw].RecordsOut)
	require.Contains(t, run.Zones, models.ZoneStaging)
	assert.Equal(t, 1, run.Zones[models.ZoneStaging].RecordsIn)
	assert.Equal(t, 1, run.Zones[models.ZoneStaging].RecordsOut)
	require.Contains(t, run.Zones, models.ZoneCurated)
	assert.Equal(t, 1, run.Zones[models.ZoneCurated].RecordsOut)

	rawCount, _ := h.rawRepo.CountBySource(context.Background(), "oddsfeed")
	assert.EqualValues(t, 1, rawCount)

	curated, err := h.lineRepo.CuratedWindow(context.Background(), models.MarketMoneyline, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, curated, 1)
	line := curated[0]
	assert.Equal(t, game.ID, line.GameID)
	assert.Equal(t, book.ID, line.SportsbookID)
	assert.Equal(t, -140, *line.HomePrice)
	assert.Equal(t, 120, *line.AwayPrice)
	assert.Equal(t, models.DataQualityHigh, line.DataQuality)
	require.NotNil(t, line.SharpActionTag)
	assert.Equal(t, models.SharpActionNone, *line.SharpActionTag)
	assert.True(t, line.IsOpening)
	assert.False(t, line.RLM)
	assert.False(t, line.Steam)

	// terminal state reached the ledger
	persisted, err := h.runRepo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, persisted.Status)
}

func TestPipelineDuplicateIdempotency(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")
	h.seedBook("oddsfeed", "15", "draftkings")

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := mlProv("oddsfeed", ts, 746789, "15", -140, 120)
	// the same capture twice in one batch
	src := &stubCollector{name: "oddsfeed", records: []*models.RawRecord{
		rawFor("oddsfeed", "ev-1", ts, prov),
		rawFor("oddsfeed", "ev-1", ts, prov),
	}}

	orch := h.orchestrator(src)
	start, end := ts.Add(-time.Hour), ts.Add(time.Hour)

	run, err := orch.Run(context.Background(), models.RunModeFull, start, end)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	// and the same batch again in a later run
	run2, err := orch.Run(context.Background(), models.RunModeFull, start, end)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run2.Status)
	assert.Equal(t, 2, run2.Zones[models.ZoneRaw].RecordsOut, "replayed captures count as duplicates, not losses")

	rawCount, _ := h.rawRepo.CountBySource(context.Background(), "oddsfeed")
	assert.EqualValues(t, 1, rawCount)
	curCount, _ := h.lineRepo.CuratedCount(context.Background(), models.MarketMoneyline)
	assert.EqualValues(t, 1, curCount)
}

func TestStagingQuarantinesUnknownGameAndRevives(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedBook("oddsfeed", "15", "draftkings")

	date := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	ts := date.Add(15 * time.Hour)
	prov := mlProv("oddsfeed", ts, 0, "15", -120, 100)
	prov.HomeTeam = "LAA"
	prov.AwayTeam = "SEA"
	prov.GameDate = date

	_, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("oddsfeed", "ev-7", ts, prov)})
	require.NoError(t, err)

	zm, err := h.staging.Process(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, zm.Rejects[RejectUnknownGame])
	assert.Equal(t, 1, zm.Quarantined)
	assert.Equal(t, 0, zm.RecordsOut)

	pending, err := h.quarRepo.GetPending(context.Background(), models.QuarantineUnresolvedIdentity, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].Provisional)

	// nothing to revive yet: the schedule still has not landed
	res, err := h.reviver.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revived)
	_, _, ok := res.CuratedSpan()
	assert.False(t, ok)

	// schedule import creates the game; the next sweep attaches the record
	game := h.seedGame(778001, date, "LAA", "SEA")

	res, err = h.reviver.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revived)
	assert.EqualValues(t, 0, res.Remaining)

	spanStart, spanEnd, ok := res.CuratedSpan()
	require.True(t, ok)
	assert.False(t, ts.Before(spanStart))
	assert.True(t, ts.Before(spanEnd))

	// the revived quote promotes over the span it actually covers
	czm, err := h.curated.Process(context.Background(), spanStart, spanEnd)
	require.NoError(t, err)
	assert.Equal(t, 1, czm.RecordsOut)

	curated, err := h.lineRepo.CuratedWindow(context.Background(), models.MarketMoneyline, spanStart, spanEnd)
	require.NoError(t, err)
	require.Len(t, curated, 1)
	assert.Equal(t, game.ID, curated[0].GameID)

	n, _ := h.quarRepo.CountPending(context.Background())
	assert.EqualValues(t, 0, n)
}

func TestStagingParksUnknownSportsbookForReview(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := mlProv("oddsfeed", ts, 746789, "77", -140, 120) // nobody maps book 77
	_, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("oddsfeed", "ev-3", ts, prov)})
	require.NoError(t, err)

	zm, err := h.staging.Process(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, zm.Rejects[RejectUnknownSportsbook])
	assert.Equal(t, 1, zm.Quarantined)

	// the resolver parked a placeholder book behind a flagged mapping
	require.Len(t, h.bookRepo.mappings, 1)
	mapping := h.bookRepo.mappings[0]
	assert.True(t, mapping.NeedsReview)

	pending, err := h.quarRepo.GetPending(context.Background(), models.QuarantineNeedsReview, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// review keeps flagged identities out until an operator approves
	res, err := h.reviver.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Revived)

	mapping.NeedsReview = false

	res, err = h.reviver.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revived)

	staged, err := h.lineRepo.StagingWindow(context.Background(), models.MarketMoneyline, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, mapping.SportsbookID, staged[0].SportsbookID)
}

func TestStagingRejectsFutureQuotes(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")
	h.seedBook("oddsfeed", "15", "draftkings")

	ts := time.Now().UTC().Add(10 * time.Minute) // far past the 60s skew tolerance
	prov := mlProv("oddsfeed", ts, 746789, "15", -140, 120)
	_, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("oddsfeed", "ev-9", ts, prov)})
	require.NoError(t, err)

	zm, err := h.staging.Process(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, zm.Rejects[RejectInvalidTimestamp])
	assert.Equal(t, 0, zm.Quarantined, "timestamp rejects are not revivable")

	staged, err := h.lineRepo.StagingWindow(context.Background(), models.MarketMoneyline, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestOrchestratorPartialOnErrorRate(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")
	h.seedBook("oddsfeed", "15", "draftkings")

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	good := mlProv("oddsfeed", ts, 746789, "15", -140, 120)
	bad := mlProv("oddsfeed", ts.Add(time.Minute), 746789, "15", 50, -60) // inside (-100, 100)
	src := &stubCollector{name: "oddsfeed", records: []*models.RawRecord{
		rawFor("oddsfeed", "ev-1", ts, good),
		rawFor("oddsfeed", "ev-2", ts.Add(time.Minute), bad),
	}}

	run, err := h.orchestrator(src).Run(context.Background(),
		models.RunModeFull, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Zones[models.ZoneStaging].Rejects[RejectInvalidOdds])
	assert.Equal(t, 1, run.Zones[models.ZoneStaging].RecordsOut)

	curCount, _ := h.lineRepo.CuratedCount(context.Background(), models.MarketMoneyline)
	assert.EqualValues(t, 1, curCount, "the valid quote still promotes")
}

func TestOrchestratorFailsWhenAllSweepsFail(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	src := &stubCollector{name: "oddsfeed", err: errors.New("connection refused")}

	start := time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC)
	run, err := h.orchestrator(src).Run(context.Background(), models.RunModeFull, start, start.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "collection sweeps failed")

	// the failed attempt still reached the ledger for baseline history
	require.Len(t, h.attRepo.attempts, 1)
	assert.Equal(t, models.AttemptOutcomeNetworkError, h.attRepo.attempts[0].Outcome)
}

func TestOrchestratorQuietWindowSucceeds(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	src := &stubCollector{name: "oddsfeed"} // nothing to report overnight

	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	run, err := h.orchestrator(src).Run(context.Background(), models.RunModeFull, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
}

func TestOrchestratorPairMode(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")
	h.seedBook("oddsfeed", "15", "draftkings")

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := mlProv("oddsfeed", ts, 746789, "15", -140, 120)
	_, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("oddsfeed", "ev-1", ts, prov)})
	require.NoError(t, err)

	run, err := h.orchestrator().Run(context.Background(),
		models.RunModePair, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.NotContains(t, run.Zones, models.ZoneRaw)
	assert.Contains(t, run.Zones, models.ZoneStaging)
	assert.Contains(t, run.Zones, models.ZoneCurated)

	curCount, _ := h.lineRepo.CuratedCount(context.Background(), models.MarketMoneyline)
	assert.EqualValues(t, 1, curCount)
}

func TestOutcomeResolverFinalsAndClosings(t *testing.T) {
	h := newHarness(map[string]float64{"mlbsched": 1.0})
	game := h.seedGame(746789, gameDate, "NYY", "BOS")
	book := h.seedBook("oddsfeed", "15", "draftkings")

	// two curated quotes; the later one should become the closing snapshot
	early := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	late := time.Date(2025, 5, 1, 18, 55, 0, 0, time.UTC)
	for _, ts := range []time.Time{early, late} {
		home, away := -140, 120
		tag := models.SharpActionNone
		_, err := h.lineRepo.UpsertCurated(context.Background(), models.MarketMoneyline, []*models.BettingLine{{
			ID: uuid.New(), GameID: game.ID, SportsbookID: book.ID,
			Market: models.MarketMoneyline, Source: "oddsfeed",
			OddsTimestamp: ts, HomePrice: &home, AwayPrice: &away,
			SharpActionTag: &tag, CompletenessScore: 1, ReliabilityScore: 0.95,
			DataQuality: models.DataQualityHigh,
		}})
		require.NoError(t, err)
	}

	homeScore, awayScore := 7, 4
	status := models.GameStatusFinal
	finalProv := collector.ProvisionalRecord{
		Kind:          collector.KindGame,
		Source:        "mlbsched",
		ExternalID:    "746789",
		OddsTimestamp: late.Add(3 * time.Hour),
		LeagueGameID:  game.LeagueGameID,
		HomeTeam:      "NYY",
		AwayTeam:      "BOS",
		GameDate:      gameDate,
		GameStatus:    &status,
		HomeScore:     &homeScore,
		AwayScore:     &awayScore,
	}
	sched := &stubCollector{name: "mlbsched", records: []*models.RawRecord{
		rawFor("mlbsched", "sched-2025-05-01", late.Add(3*time.Hour), finalProv),
	}}
	outcome := NewOutcomeResolver(sched, h.rawProc, h.gameRepo, h.lineRepo, h.logger)

	res, err := outcome.Resolve(context.Background(), gameDate, gameDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)

	got, err := h.gameRepo.GetByID(context.Background(), game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusFinal, got.Status)
	require.NotNil(t, got.HomeScore)
	assert.Equal(t, 7, *got.HomeScore)
	assert.Equal(t, 4, *got.AwayScore)

	lines, err := h.lineRepo.CuratedMovement(context.Background(), models.MarketMoneyline, game.ID, book.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.False(t, lines[0].IsClosing)
	assert.True(t, lines[1].IsClosing)

	// a second pass must not resolve the same game again
	res, err = outcome.Resolve(context.Background(), gameDate, gameDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Resolved)
}

func TestOutcomeResolverStatusOnly(t *testing.T) {
	h := newHarness(map[string]float64{"mlbsched": 1.0})
	game := h.seedGame(746790, gameDate, "CHC", "STL")

	status := models.GameStatusPostponed
	prov := collector.ProvisionalRecord{
		Kind:          collector.KindGame,
		Source:        "mlbsched",
		ExternalID:    "746790",
		OddsTimestamp: gameDate.Add(20 * time.Hour),
		LeagueGameID:  game.LeagueGameID,
		HomeTeam:      "CHC",
		AwayTeam:      "STL",
		GameDate:      gameDate,
		GameStatus:    &status,
	}
	sched := &stubCollector{name: "mlbsched", records: []*models.RawRecord{
		rawFor("mlbsched", "sched-ppd", gameDate.Add(20*time.Hour), prov),
	}}
	outcome := NewOutcomeResolver(sched, h.rawProc, h.gameRepo, h.lineRepo, h.logger)

	res, err := outcome.Resolve(context.Background(), gameDate, gameDate.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Resolved)
	assert.Equal(t, 1, res.StatusUpdates)

	got, _ := h.gameRepo.GetByID(context.Background(), game.ID)
	assert.Equal(t, models.GameStatusPostponed, got.Status)
	assert.Nil(t, got.HomeScore)
}

// ---------------------------------------------------------------------------
// Normalization

func TestBuildLineDecimalConversion(t *testing.T) {
	game := &models.Game{ID: uuid.New()}
	book := &models.Sportsbook{ID: 3}
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	homeDec := decimal.RequireFromString("2.50")
	awayDec := decimal.RequireFromString("1.91")
	prov := &collector.ProvisionalRecord{
		Kind: collector.KindLine, Source: "oddsboard", OddsTimestamp: ts,
		Market: models.MarketMoneyline, HomePriceDec: &homeDec, AwayPriceDec: &awayDec,
	}

	line, reject := buildLine(prov, game, book, 0.8)
	require.Empty(t, reject)
	assert.Equal(t, 150, *line.HomePrice)
	assert.Equal(t, -110, *line.AwayPrice)
}

func TestBuildLineSnapsAndClips(t *testing.T) {
	game := &models.Game{ID: uuid.New()}
	book := &models.Sportsbook{ID: 3}
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	spread := decimal.RequireFromString("-1.7")
	home, away := -110, -110
	over := 100.4
	under := -0.3
	prov := &collector.ProvisionalRecord{
		Kind: collector.KindLine, Source: "oddsfeed", OddsTimestamp: ts,
		Market: models.MarketSpread, SpreadLine: &spread,
		HomePrice: &home, AwayPrice: &away,
		BetsPctHome: &over, BetsPctAway: &under,
	}

	line, reject := buildLine(prov, game, book, 0.8)
	require.Empty(t, reject)
	assert.Equal(t, "-1.5", line.SpreadLine.String())
	assert.Equal(t, 100.0, *line.BetsPctHome)
	assert.Equal(t, 0.0, *line.BetsPctAway)

	// a percentage too far out of range nulls instead of clipping
	wild := 140.0
	prov.BetsPctHome = &wild
	line, reject = buildLine(prov, game, book, 0.8)
	require.Empty(t, reject)
	assert.Nil(t, line.BetsPctHome)
}

func TestBuildLineRejections(t *testing.T) {
	game := &models.Game{ID: uuid.New()}
	book := &models.Sportsbook{ID: 3}
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	badHome, away := 50, 120 // -99..99 is not a representable American price

	cases := []struct {
		name   string
		prov   collector.ProvisionalRecord
		reject string
	}{
		{
			name: "odds inside the American gap",
			prov: collector.ProvisionalRecord{
				Kind: collector.KindLine, Source: "oddsfeed", OddsTimestamp: ts,
				Market: models.MarketMoneyline, HomePrice: &badHome, AwayPrice: &away,
			},
			reject: RejectInvalidOdds,
		},
		{
			name: "spread without a line",
			prov: collector.ProvisionalRecord{
				Kind: collector.KindLine, Source: "oddsfeed", OddsTimestamp: ts,
				Market: models.MarketSpread, HomePrice: &away, AwayPrice: &away,
			},
			reject: RejectSchemaViolation,
		},
		{
			name: "zero timestamp",
			prov: collector.ProvisionalRecord{
				Kind: collector.KindLine, Source: "oddsfeed",
				Market: models.MarketMoneyline, HomePrice: &away, AwayPrice: &away,
			},
			reject: RejectInvalidTimestamp,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, reject := buildLine(&tc.prov, game, book, 0.8)
			assert.Equal(t, tc.reject, reject)
		})
	}
}

func TestBuildLineQualityTiers(t *testing.T) {
	game := &models.Game{ID: uuid.New()}
	book := &models.Sportsbook{ID: 3}
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	home := -140

	// one price of two: completeness 0.5 with solid reliability lands LOW
	prov := &collector.ProvisionalRecord{
		Kind: collector.KindLine, Source: "oddsfeed", OddsTimestamp: ts,
		Market: models.MarketMoneyline, HomePrice: &home,
	}
	line, reject := buildLine(prov, game, book, 0.95)
	require.Empty(t, reject)
	assert.Equal(t, 0.5, line.CompletenessScore)
	assert.Equal(t, models.DataQualityLow, line.DataQuality)

	away := 120
	prov.AwayPrice = &away
	line, _ = buildLine(prov, game, book, 0.95)
	assert.Equal(t, 1.0, line.CompletenessScore)
	assert.Equal(t, models.DataQualityHigh, line.DataQuality)

	// same content from a shakier source drops the tier, deterministically
	line, _ = buildLine(prov, game, book, 0.7)
	assert.Equal(t, models.DataQualityMedium, line.DataQuality)
}

func TestRawIngestValidation(t *testing.T) {
	h := newHarness(map[string]float64{"oddsfeed": 0.95})
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	broken := &models.RawRecord{
		ID: uuid.New(), Source: "oddsfeed", ExternalID: "ev-bad",
		OddsTimestamp: ts, FetchedAt: ts,
		Payload: json.RawMessage(`{"truncated":`), BatchID: uuid.New(),
		ParseStatus: models.ParseStatusParsed,
	}
	fine := rawFor("oddsfeed", "ev-ok", ts, mlProv("oddsfeed", ts, 746789, "15", -140, 120))

	res, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{broken, fine})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted, "invalid captures persist too")
	assert.Equal(t, 1, res.Invalid)
	assert.False(t, broken.Valid)
	require.NotNil(t, broken.InvalidReason)
	assert.Contains(t, *broken.InvalidReason, "JSON")

	// flagged records never reach staging
	zm, err := h.staging.Process(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, zm.Rejects[RejectParseError])
}

func TestStagingTieKeepsReliableSource(t *testing.T) {
	h := newHarness(map[string]float64{"alpha": 0.6, "beta": 0.95})
	h.seedGame(746789, gameDate, "NYY", "BOS")
	book := h.seedBook("alpha", "15", "draftkings")
	// both sources quote the same book under their own identifiers
	extID := "dk"
	_ = h.bookRepo.CreateMapping(context.Background(), &models.SportsbookExternalMap{
		Source: "beta", ExternalID: &extID, SportsbookID: book.ID,
	})

	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	fromAlpha := mlProv("alpha", ts, 746789, "15", -140, 120)
	fromBeta := mlProv("beta", ts, 746789, "dk", -138, 118)

	_, err := h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("alpha", "a-1", ts, fromAlpha)})
	require.NoError(t, err)
	_, err = h.rawProc.Ingest(context.Background(), []*models.RawRecord{rawFor("beta", "b-1", ts, fromBeta)})
	require.NoError(t, err)

	zm, err := h.staging.Process(context.Background(), ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, zm.Rejects[RejectDuplicate])

	staged, err := h.lineRepo.StagingWindow(context.Background(), models.MarketMoneyline, ts.Add(-time.Hour), ts.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "beta", staged[0].Source)
	assert.Equal(t, -138, *staged[0].HomePrice)
}

// ---------------------------------------------------------------------------
// Curated signals

func seedSplitQuote(h *pipelineHarness, game *models.Game, bookID int, ts time.Time, home, away int, betsHome, moneyHome float64) *models.BettingLine {
	betsAway := 100 - betsHome
	moneyAway := 100 - moneyHome
	line := &models.BettingLine{
		ID: uuid.New(), GameID: game.ID, SportsbookID: bookID,
		Market: models.MarketMoneyline, Source: "sharpsplits",
		OddsTimestamp: ts, HomePrice: &home, AwayPrice: &away,
		BetsPctHome: &betsHome, MoneyPctHome: &moneyHome,
		BetsPctAway: &betsAway, MoneyPctAway: &moneyAway,
		CompletenessScore: 1, ReliabilityScore: 0.95,
		DataQuality: models.DataQualityHigh,
	}
	_, _ = h.lineRepo.UpsertStaging(context.Background(), models.MarketMoneyline, []*models.BettingLine{line})
	return line
}

func TestCuratedTagsAndRLM(t *testing.T) {
	h := newHarness(map[string]float64{"sharpsplits": 0.95})
	game := h.seedGame(746789, gameDate, "NYY", "BOS")
	book := h.seedBook("sharpsplits", "15", "draftkings")

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	// tickets pile on home while the price moves against it
	seedSplitQuote(h, game, book.ID, base, -150, 130, 70, 40)
	seedSplitQuote(h, game, book.ID, base.Add(30*time.Minute), -165, 140, 70, 40)

	zm, err := h.curated.Process(context.Background(), base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, zm.RecordsOut)

	lines, err := h.lineRepo.CuratedMovement(context.Background(), models.MarketMoneyline, game.ID, book.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// money sits 30 points above tickets on the away side
	require.NotNil(t, lines[0].SharpActionTag)
	assert.Equal(t, models.SharpActionHeavyAway, *lines[0].SharpActionTag)
	assert.Equal(t, models.SharpActionHeavyAway, *lines[1].SharpActionTag)

	assert.False(t, lines[0].RLM)
	assert.True(t, lines[1].RLM, "price moved against the 70% ticket majority")
	assert.True(t, lines[0].IsOpening)
	assert.False(t, lines[1].IsOpening)
}

func TestCuratedLookbackFlagsEdgeQuotes(t *testing.T) {
	h := newHarness(map[string]float64{"sharpsplits": 0.95})
	game := h.seedGame(746789, gameDate, "NYY", "BOS")
	book := h.seedBook("sharpsplits", "15", "draftkings")

	// the justifying quote was promoted by an earlier window's run
	before := time.Date(2025, 5, 1, 11, 50, 0, 0, time.UTC)
	earlier := seedSplitQuote(h, game, book.ID, before, -150, 130, 70, 40)
	tag := models.SharpActionHeavyAway
	earlier.SharpActionTag = &tag
	_, err := h.lineRepo.UpsertCurated(context.Background(), models.MarketMoneyline, []*models.BettingLine{earlier})
	require.NoError(t, err)

	// this window only contains the later quote
	inWindow := time.Date(2025, 5, 1, 12, 10, 0, 0, time.UTC)
	seedSplitQuote(h, game, book.ID, inWindow, -165, 140, 70, 40)

	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err = h.curated.Process(context.Background(), start, start.Add(time.Hour))
	require.NoError(t, err)

	lines, err := h.lineRepo.CuratedMovement(context.Background(), models.MarketMoneyline, game.ID, book.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, lines[1].RLM, "context outside the window still justifies the flag")
}

func TestCuratedSteamAcrossBooks(t *testing.T) {
	h := newHarness(map[string]float64{"sharpsplits": 0.95})
	game := h.seedGame(746789, gameDate, "NYY", "BOS")
	book1 := h.seedBook("sharpsplits", "15", "draftkings")
	book2 := h.seedBook("sharpsplits", "16", "fanduel")

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	seedSplitQuote(h, game, book1.ID, base, -150, 130, 50, 50)
	seedSplitQuote(h, game, book2.ID, base.Add(30*time.Second), -148, 128, 50, 50)
	seedSplitQuote(h, game, book1.ID, base.Add(2*time.Minute), -158, 136, 50, 50)
	seedSplitQuote(h, game, book2.ID, base.Add(3*time.Minute), -155, 133, 50, 50)

	_, err := h.curated.Process(context.Background(), base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)

	for _, book := range []int{book1.ID, book2.ID} {
		lines, err := h.lineRepo.CuratedMovement(context.Background(), models.MarketMoneyline, game.ID, book)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.False(t, lines[0].Steam)
		assert.True(t, lines[1].Steam, "both books completed the same move inside the window")
	}
}

func TestZonesForModes(t *testing.T) {
	assert.Equal(t, []models.ZoneName{models.ZoneRaw, models.ZoneStaging, models.ZoneCurated}, zonesFor(models.RunModeFull))
	assert.Equal(t, []models.ZoneName{models.ZoneRaw}, zonesFor(models.RunModeRawOnly))
	assert.Equal(t, []models.ZoneName{models.ZoneStaging}, zonesFor(models.RunModeStagingOnly))
	assert.Equal(t, []models.ZoneName{models.ZoneCurated}, zonesFor(models.RunModeCuratedOnly))
	assert.Equal(t, []models.ZoneName{models.ZoneStaging, models.ZoneCurated}, zonesFor(models.RunModePair))
}
