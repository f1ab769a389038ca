package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/boardsync/internal/model"
	"github.com/steveyegge/boardsync/internal/router"
	"github.com/steveyegge/boardsync/internal/store"
	"github.com/steveyegge/boardsync/internal/writer"
)

// Command names accepted by the engine.
const (
	CmdCreateBoard      = "createBoard"
	CmdGetBoards        = "getBoards"
	CmdGetBoard         = "getBoard"
	CmdUpdateBoard      = "updateBoard"
	CmdRenameBoard      = "renameBoard"
	CmdDeleteBoard      = "deleteBoard"
	CmdAddColumn        = "addColumn"
	CmdUpdateColumn     = "updateColumn"
	CmdDeleteColumn     = "deleteColumn"
	CmdAddCard          = "addCard"
	CmdUpdateCard       = "updateCard"
	CmdMoveCard         = "moveCard"
	CmdDeleteCard       = "deleteCard"
	CmdRestoreCard      = "restoreCard"
	CmdPurgeCard        = "purgeCard"
	CmdListDeletedCards = "listDeletedCards"
	CmdSaveNow          = "saveNow"
)

func (e *Engine) registerHandlers() {
	r := e.router
	r.RegisterHandler(CmdCreateBoard, e.handleCreateBoard)
	r.RegisterHandler(CmdGetBoards, e.handleGetBoards)
	r.RegisterHandler(CmdGetBoard, e.handleGetBoard)
	r.RegisterHandler(CmdUpdateBoard, e.handleUpdateBoard)
	r.RegisterHandler(CmdRenameBoard, e.handleRenameBoard)
	r.RegisterHandler(CmdDeleteBoard, e.handleDeleteBoard)
	r.RegisterHandler(CmdAddColumn, e.handleAddColumn)
	r.RegisterHandler(CmdUpdateColumn, e.handleUpdateColumn)
	r.RegisterHandler(CmdDeleteColumn, e.handleDeleteColumn)
	r.RegisterHandler(CmdAddCard, e.handleAddCard)
	r.RegisterHandler(CmdUpdateCard, e.handleUpdateCard)
	r.RegisterHandler(CmdMoveCard, e.handleMoveCard)
	r.RegisterHandler(CmdDeleteCard, e.handleDeleteCard)
	r.RegisterHandler(CmdRestoreCard, e.handleRestoreCard)
	r.RegisterHandler(CmdPurgeCard, e.handlePurgeCard)
	r.RegisterHandler(CmdListDeletedCards, e.handleListDeletedCards)
	r.RegisterHandler(CmdSaveNow, e.handleSaveNow)
}

// decode parses a payload into dst, classifying failures as validation
// errors.
func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return router.Errorf(router.CodeValidation, "payload is required")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return router.Wrap(router.CodeValidation, err, "malformed payload")
	}
	return nil
}

// classify maps component errors onto router codes.
func classify(err error, msg string) error {
	var re *router.Error
	if errors.As(err, &re) {
		return err
	}
	var ioErr *writer.IOError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return router.Wrap(router.CodeNotFound, err, msg)
	case errors.As(err, &ioErr):
		return router.Wrap(router.CodeIO, err, msg)
	default:
		return router.Wrap(router.CodeInternal, err, msg)
	}
}

// ===== Board commands =====

type createBoardPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

func (e *Engine) handleCreateBoard(payload json.RawMessage) (any, error) {
	var p createBoardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	name, ok := model.SanitizeTitle(p.Name)
	if !ok {
		return nil, router.Errorf(router.CodeValidation, "board name must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.BoardNameInUse(name, "") {
		return nil, router.Errorf(router.CodeValidation, "board name %q already in use", name)
	}

	now := time.Now()
	b := &model.Board{
		ID:          uuid.NewString(),
		Name:        name,
		Description: p.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     model.SchemaVersion,
	}
	for _, title := range p.Columns {
		t, ok := model.SanitizeTitle(title)
		if !ok {
			return nil, router.Errorf(router.CodeValidation, "column title must not be empty")
		}
		b.Columns = append(b.Columns, &model.Column{ID: uuid.NewString(), Title: t})
	}
	b.SetDefaults()

	e.store.PutBoard(b)
	e.afterBoardMutation(b)
	return e.boardView(b), nil
}

func (e *Engine) handleGetBoards(json.RawMessage) (any, error) {
	view, fresh := e.cache.GetList(cacheKeyBoards)
	return map[string]any{
		"state":  view.State.String(),
		"boards": view.Items,
		"error":  view.Err,
		"fresh":  fresh,
	}, nil
}

type boardRefPayload struct {
	BoardID string `json:"boardId"`
}

func (e *Engine) handleGetBoard(payload json.RawMessage) (any, error) {
	var p boardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Board(p.BoardID)
	if err != nil {
		return nil, classify(err, "board lookup failed")
	}
	return e.boardView(b), nil
}

type updateBoardPayload struct {
	BoardID     string  `json:"boardId"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (e *Engine) handleUpdateBoard(payload json.RawMessage) (any, error) {
	var p updateBoardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Board(p.BoardID)
	if err != nil {
		return nil, classify(err, "board lookup failed")
	}
	if p.Name != nil {
		name, ok := model.SanitizeTitle(*p.Name)
		if !ok {
			return nil, router.Errorf(router.CodeValidation, "board name must not be empty")
		}
		if e.store.BoardNameInUse(name, b.ID) {
			return nil, router.Errorf(router.CodeValidation, "board name %q already in use", name)
		}
		b.Name = name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	b.Touch()
	e.afterBoardMutation(b)
	return e.boardView(b), nil
}

type renameBoardPayload struct {
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
}

func (e *Engine) handleRenameBoard(payload json.RawMessage) (any, error) {
	var p renameBoardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	name := p.Name
	raw, err := json.Marshal(updateBoardPayload{BoardID: p.BoardID, Name: &name})
	if err != nil {
		return nil, router.Wrap(router.CodeInternal, err, "failed to re-encode payload")
	}
	return e.handleUpdateBoard(raw)
}

func (e *Engine) handleDeleteBoard(payload json.RawMessage) (any, error) {
	var p boardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Board(p.BoardID)
	if err != nil {
		return nil, classify(err, "board lookup failed")
	}

	// Soft-delete every card on the board, then drop the board itself.
	for _, col := range b.Columns {
		for _, cardID := range e.index.CardsInColumn(col.ID) {
			if dc, err := e.store.SoftDeleteCard(cardID); err == nil {
				e.index.OnCardRemove(cardID)
				e.mirrorSoftDelete(dc)
			}
		}
	}
	if err := e.store.DeleteBoard(p.BoardID); err != nil {
		return nil, classify(err, "board delete failed")
	}
	if err := e.writer.Delete(p.BoardID); err != nil {
		return nil, classify(err, "board file delete failed")
	}
	e.mirrorIndex()
	e.cache.Invalidate(cacheKeyBoards)
	e.notify(Event{Type: "board_deleted", EntityID: p.BoardID})
	return map[string]any{"deleted": p.BoardID}, nil
}

// ===== Column commands =====

type addColumnPayload struct {
	BoardID   string `json:"boardId"`
	Title     string `json:"title"`
	CardLimit int    `json:"cardLimit"`
}

func (e *Engine) handleAddColumn(payload json.RawMessage) (any, error) {
	var p addColumnPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	title, ok := model.SanitizeTitle(p.Title)
	if !ok {
		return nil, router.Errorf(router.CodeValidation, "column title must not be empty")
	}
	if p.CardLimit < 0 {
		return nil, router.Errorf(router.CodeValidation, "cardLimit must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Board(p.BoardID)
	if err != nil {
		return nil, classify(err, "board lookup failed")
	}
	col := &model.Column{ID: uuid.NewString(), Title: title, CardLimit: p.CardLimit}
	b.Columns = append(b.Columns, col)
	b.Touch()
	e.afterBoardMutation(b)
	return map[string]any{"columnId": col.ID}, nil
}

type updateColumnPayload struct {
	ColumnID  string  `json:"columnId"`
	Title     *string `json:"title,omitempty"`
	CardLimit *int    `json:"cardLimit,omitempty"`
}

func (e *Engine) handleUpdateColumn(payload json.RawMessage) (any, error) {
	var p updateColumnPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.BoardForColumn(p.ColumnID)
	if err != nil {
		return nil, classify(err, "column lookup failed")
	}
	col := b.Column(p.ColumnID)

	// Validate the whole payload before touching the column, so a
	// rejected update leaves no partial state behind.
	var title string
	if p.Title != nil {
		t, ok := model.SanitizeTitle(*p.Title)
		if !ok {
			return nil, router.Errorf(router.CodeValidation, "column title must not be empty")
		}
		title = t
	}
	if p.CardLimit != nil && *p.CardLimit < 0 {
		return nil, router.Errorf(router.CodeValidation, "cardLimit must not be negative")
	}

	if p.Title != nil {
		col.Title = title
	}
	if p.CardLimit != nil {
		col.CardLimit = *p.CardLimit
	}
	b.Touch()
	e.afterBoardMutation(b)
	return map[string]any{"columnId": col.ID}, nil
}

type columnRefPayload struct {
	ColumnID string `json:"columnId"`
}

func (e *Engine) handleDeleteColumn(payload json.RawMessage) (any, error) {
	var p columnRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.BoardForColumn(p.ColumnID)
	if err != nil {
		return nil, classify(err, "column lookup failed")
	}

	for _, cardID := range e.index.CardsInColumn(p.ColumnID) {
		if dc, err := e.store.SoftDeleteCard(cardID); err == nil {
			e.mirrorSoftDelete(dc)
		}
	}
	e.index.OnColumnRemove(p.ColumnID)

	for i, col := range b.Columns {
		if col.ID == p.ColumnID {
			b.Columns = append(b.Columns[:i], b.Columns[i+1:]...)
			break
		}
	}
	b.Touch()
	e.afterBoardMutation(b)
	return map[string]any{"deleted": p.ColumnID}, nil
}

// ===== Card commands =====

type addCardPayload struct {
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Tags        []string `json:"tags"`
}

func (e *Engine) handleAddCard(payload json.RawMessage) (any, error) {
	var p addCardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	title, ok := model.SanitizeTitle(p.Title)
	if !ok {
		return nil, router.Errorf(router.CodeValidation, "card title must not be empty")
	}
	if p.Priority < 0 || p.Priority > 4 {
		return nil, router.Errorf(router.CodeValidation, "priority must be between 0 and 4")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.BoardForColumn(p.ColumnID)
	if err != nil {
		return nil, classify(err, "column lookup failed")
	}
	col := b.Column(p.ColumnID)
	existing := e.index.CardsInColumn(p.ColumnID)
	if col.CardLimit > 0 && len(existing) >= col.CardLimit {
		return nil, router.Errorf(router.CodeValidation, "column %q is at its card limit (%d)", col.Title, col.CardLimit)
	}

	now := time.Now()
	c := &model.Card{
		ID:          uuid.NewString(),
		Title:       title,
		Description: p.Description,
		ColumnID:    p.ColumnID,
		Order:       e.nextOrder(existing),
		Priority:    p.Priority,
		Tags:        p.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.SetDefaults()

	e.store.PutCard(c)
	e.index.OnCardUpsert(c)
	e.mirrorCard(c)
	b.Touch()
	e.afterBoardMutation(b)
	return c.Clone(), nil
}

type updateCardPayload struct {
	CardID      string    `json:"cardId"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

func (e *Engine) handleUpdateCard(payload json.RawMessage) (any, error) {
	var p updateCardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.Card(p.CardID)
	if err != nil {
		return nil, classify(err, "card lookup failed")
	}

	// Validate the whole payload before touching the card, so a rejected
	// update leaves no partial state behind.
	var title string
	if p.Title != nil {
		t, ok := model.SanitizeTitle(*p.Title)
		if !ok {
			return nil, router.Errorf(router.CodeValidation, "card title must not be empty")
		}
		title = t
	}
	if p.Priority != nil && (*p.Priority < 0 || *p.Priority > 4) {
		return nil, router.Errorf(router.CodeValidation, "priority must be between 0 and 4")
	}

	if p.Title != nil {
		c.Title = title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.Tags != nil {
		c.Tags = append([]string(nil), (*p.Tags)...)
	}
	c.Touch()

	e.index.OnCardUpsert(c)
	e.mirrorCard(c)
	e.scheduleBoardForColumn(c.ColumnID)
	return c.Clone(), nil
}

type moveCardPayload struct {
	CardID     string `json:"cardId"`
	ToColumnID string `json:"toColumnId"`
	// Position is the zero-based target slot; nil appends to the end.
	Position *int `json:"position,omitempty"`
}

func (e *Engine) handleMoveCard(payload json.RawMessage) (any, error) {
	var p moveCardPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.Card(p.CardID)
	if err != nil {
		return nil, classify(err, "card lookup failed")
	}
	targetBoard, err := e.store.BoardForColumn(p.ToColumnID)
	if err != nil {
		return nil, classify(err, "target column lookup failed")
	}
	targetCol := targetBoard.Column(p.ToColumnID)

	targetIDs := e.index.CardsInColumn(p.ToColumnID)
	if c.ColumnID != p.ToColumnID && targetCol.CardLimit > 0 && len(targetIDs) >= targetCol.CardLimit {
		return nil, router.Errorf(router.CodeValidation, "column %q is at its card limit (%d)", targetCol.Title, targetCol.CardLimit)
	}

	sourceColumnID := c.ColumnID

	// Move is one critical section: remove from source order, append to
	// target at the requested slot, renumber, reindex.
	c.ColumnID = p.ToColumnID
	c.Touch()
	e.index.OnCardUpsert(c)

	e.renumberColumn(p.ToColumnID, c.ID, p.Position)
	e.mirrorCard(c)
	e.mirrorIndex()

	e.scheduleBoardForColumn(p.ToColumnID)
	if sourceColumnID != p.ToColumnID {
		e.scheduleBoardForColumn(sourceColumnID)
	}
	e.cache.Invalidate(cacheKeyBoards)
	e.notify(Event{Type: "card_changed", EntityID: c.ID})
	return c.Clone(), nil
}

type cardRefPayload struct {
	CardID string `json:"cardId"`
}

func (e *Engine) handleDeleteCard(payload json.RawMessage) (any, error) {
	var p cardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dc, err := e.store.SoftDeleteCard(p.CardID)
	if err != nil {
		return nil, classify(err, "card delete failed")
	}
	e.index.OnCardRemove(p.CardID)
	e.mirrorSoftDelete(dc)
	e.mirrorIndex()
	e.scheduleBoardForColumn(dc.Card.ColumnID)
	e.cache.Invalidate(cacheKeyBoards)
	e.notify(Event{Type: "card_changed", EntityID: p.CardID})
	return map[string]any{"deleted": p.CardID}, nil
}

func (e *Engine) handleRestoreCard(payload json.RawMessage) (any, error) {
	var p cardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.RestoreCard(p.CardID)
	if err != nil {
		return nil, classify(err, "card restore failed")
	}

	// The card's column may have been deleted while it sat in the
	// tombstone namespace; restoring into a missing column fails.
	if _, err := e.store.BoardForColumn(c.ColumnID); err != nil {
		_, _ = e.store.SoftDeleteCard(c.ID)
		return nil, router.Errorf(router.CodeNotFound, "column %s no longer exists", c.ColumnID)
	}

	e.index.OnCardUpsert(c)
	e.mirrorCard(c)
	e.mirrorIndex()
	e.scheduleBoardForColumn(c.ColumnID)
	e.cache.Invalidate(cacheKeyBoards)
	e.notify(Event{Type: "card_changed", EntityID: c.ID})
	return c.Clone(), nil
}

func (e *Engine) handlePurgeCard(payload json.RawMessage) (any, error) {
	var p cardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.PurgeCard(p.CardID); err != nil {
		return nil, classify(err, "card purge failed")
	}
	if e.cards != nil {
		if err := e.cards.PurgeCard(context.Background(), p.CardID); err != nil {
			e.log.Warn("card mirror purge failed", "card", p.CardID, "error", err)
		}
	}
	return map[string]any{"purged": p.CardID}, nil
}

func (e *Engine) handleListDeletedCards(json.RawMessage) (any, error) {
	deleted := e.store.DeletedCards()
	out := make([]any, len(deleted))
	for i, dc := range deleted {
		out[i] = dc
	}
	return out, nil
}

func (e *Engine) handleSaveNow(payload json.RawMessage) (any, error) {
	var p boardRefPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if _, err := e.store.Board(p.BoardID); err != nil {
		return nil, classify(err, "board lookup failed")
	}
	if err := e.writer.FlushNow(p.BoardID); err != nil {
		return nil, classify(err, "flush failed")
	}
	return map[string]any{"saved": p.BoardID}, nil
}

// ===== Shared helpers =====

// afterBoardMutation schedules the debounced write and refreshes the
// derived views. Caller holds e.mu.
func (e *Engine) afterBoardMutation(b *model.Board) {
	e.writer.ScheduleWrite(b.ID)
	e.cache.Invalidate(cacheKeyBoards)
	e.notify(Event{Type: "board_changed", EntityID: b.ID})
}

// scheduleBoardForColumn schedules a write for the board owning columnID.
func (e *Engine) scheduleBoardForColumn(columnID string) {
	b, err := e.store.BoardForColumn(columnID)
	if err != nil {
		e.log.Warn("no board for column, write skipped", "column", columnID)
		return
	}
	b.Touch()
	e.writer.ScheduleWrite(b.ID)
}

// nextOrder returns an order value sorting after every card in the column.
func (e *Engine) nextOrder(columnCardIDs []string) int {
	max := -1
	for _, id := range columnCardIDs {
		if c, err := e.store.Card(id); err == nil && c.Order > max {
			max = c.Order
		}
	}
	return max + 1
}

// renumberColumn assigns sequential orders to the column's cards with
// movedID placed at position (append when nil or out of range).
func (e *Engine) renumberColumn(columnID, movedID string, position *int) {
	ids := e.index.CardsInColumn(columnID)

	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != movedID {
			filtered = append(filtered, id)
		}
	}
	slot := len(filtered)
	if position != nil && *position >= 0 && *position < len(filtered) {
		slot = *position
	}
	ordered := make([]string, 0, len(filtered)+1)
	ordered = append(ordered, filtered[:slot]...)
	ordered = append(ordered, movedID)
	ordered = append(ordered, filtered[slot:]...)

	for i, id := range ordered {
		c, err := e.store.Card(id)
		if err != nil {
			continue
		}
		if c.Order != i {
			c.Order = i
			e.index.OnCardUpsert(c)
		}
	}
}

// mirrorCard mirrors an active card into the SQLite namespace.
// Mirror failures never fail the command; the board file is authoritative.
func (e *Engine) mirrorCard(c *model.Card) {
	if e.cards == nil {
		return
	}
	if err := e.cards.PutCard(context.Background(), c); err != nil {
		e.log.Warn("card mirror write failed", "card", c.ID, "error", err)
	}
}

func (e *Engine) mirrorSoftDelete(dc *model.DeletedCard) {
	if e.cards == nil {
		return
	}
	if err := e.cards.SoftDeleteCard(context.Background(), dc); err != nil {
		e.log.Warn("card mirror delete failed", "card", dc.Card.ID, "error", err)
	}
}

// mirrorIndex rewrites the columnId -> []cardId mapping key.
func (e *Engine) mirrorIndex() {
	if e.cards == nil {
		return
	}
	index := make(map[string][]string)
	for _, b := range e.store.Boards() {
		for _, col := range b.Columns {
			index[col.ID] = e.index.CardsInColumn(col.ID)
		}
	}
	if err := e.cards.WriteIndex(context.Background(), index); err != nil {
		e.log.Warn("index mirror write failed", "error", err)
	}
}

// boardSummary is the list-view shape for getBoards.
func (e *Engine) boardSummary(b *model.Board) map[string]any {
	cards := 0
	for _, col := range b.Columns {
		cards += len(e.index.CardsInColumn(col.ID))
	}
	return map[string]any{
		"id":           b.ID,
		"name":         b.Name,
		"description":  b.Description,
		"columns":      len(b.Columns),
		"cards":        cards,
		"lastModified": b.UpdatedAt,
	}
}

// boardView is the full board shape with cards assembled in index order.
func (e *Engine) boardView(b *model.Board) map[string]any {
	cols := make([]map[string]any, len(b.Columns))
	for i, col := range b.Columns {
		ids := e.index.CardsInColumn(col.ID)
		cards := make([]*model.Card, 0, len(ids))
		for _, id := range ids {
			if c, err := e.store.Card(id); err == nil {
				cards = append(cards, c.Clone())
			}
		}
		cols[i] = map[string]any{
			"id":        col.ID,
			"title":     col.Title,
			"cardLimit": col.CardLimit,
			"cards":     cards,
		}
	}
	return map[string]any{
		"id":           b.ID,
		"name":         b.Name,
		"description":  b.Description,
		"columns":      cols,
		"createdAt":    b.CreatedAt,
		"lastModified": b.UpdatedAt,
		"version":      b.Version,
	}
}
