package controller

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/pkg/credentials"
	"github.com/polydash/ingestion/pkg/db/models"
	"github.com/polydash/ingestion/pkg/utils"
)

type debugDatabase struct {
	Driver           string `json:"driver"`
	Location         string `json:"location"`
	CheckpointStatus string `json:"checkpointStatus"`
}

type debugSync struct {
	Started         bool `json:"started"`
	InProgress      bool `json:"inProgress"`
	Duration        int  `json:"duration"`
	TablesEmpty     bool `json:"tablesEmpty"`
	AllTablesFilled bool `json:"allTablesFilled"`
	NeedsSync       bool `json:"needsSync"`
	QueueLength     int  `json:"queueLength"`
}

type debugEnvironment struct {
	credentials.Diagnostics
	Port string `json:"port,omitempty"`
}

type debugMarkets struct {
	TotalQuestions           int64          `json:"totalQuestions"`
	TotalConditions          int64          `json:"totalConditions"`
	WithDecoded              int64          `json:"withDecoded"`
	WithDecodedAndConditions int64          `json:"withDecodedAndConditions"`
	MarketsQueryCount        int64          `json:"marketsQueryCount"`
	SampleMarket             *models.Market `json:"sampleMarket"`
	// Error is set when the join could not be run; the stream counts above are still valid.
	Error string `json:"error,omitempty"`
}

type debugSample struct {
	Question  *models.QuestionInitialization `json:"question"`
	Condition *models.ConditionPreparation   `json:"condition"`
}

type debugData struct {
	Database    debugDatabase    `json:"database"`
	Tables      map[string]int64 `json:"tables"`
	Sync        debugSync        `json:"sync"`
	Environment debugEnvironment `json:"environment"`
	Markets     debugMarkets     `json:"markets"`
	Sample      debugSample      `json:"sample"`
}

// HandleDebug forces a checkpoint so the counts below reflect every committed write, then
// reports storage, sync and credential state along with whether the streams join into markets.
func (c *Controller) HandleDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := c.App.Store

	status, err := store.Checkpoint(ctx)
	if err != nil {
		c.App.Logger.Warn("Debug checkpoint failed", zap.String("status", status), zap.Error(err))
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		c.App.Logger.Error("Debug counts failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}

	markets := debugMarkets{
		TotalQuestions:  counts.QuestionInitialized,
		TotalConditions: counts.ConditionPreparation,
		WithDecoded:     counts.QuestionsDecoded,
	}
	var sample debugSample
	if diag, err := store.MarketDiagnostics(ctx); err != nil {
		c.App.Logger.Warn("Debug market diagnostics failed", zap.Error(err))
		markets.Error = err.Error()
	} else {
		markets.WithDecodedAndConditions = diag.WithDecodedAndConditions
		markets.MarketsQueryCount = diag.MarketsQueryCount
		markets.SampleMarket = diag.SampleMarket
		sample = debugSample{Question: diag.SampleQuestion, Condition: diag.SampleCondition}
	}

	snapshot := c.App.Engine.InitialSyncStatus()
	empty := counts.AllEmpty()

	data := debugData{
		Database: debugDatabase{
			Driver:           store.Driver(),
			Location:         store.Location(),
			CheckpointStatus: status,
		},
		Tables: map[string]int64{
			models.TokenRegisteredTable:      counts.TokenRegistered,
			models.OrderFilledTable:          counts.OrderFilled,
			models.ConditionPreparationTable: counts.ConditionPreparation,
			models.QuestionInitializedTable:  counts.QuestionInitialized,
		},
		Sync: debugSync{
			Started:         c.App.Engine.Started(),
			InProgress:      snapshot.InProgress,
			Duration:        snapshot.DurationSeconds,
			TablesEmpty:     empty,
			AllTablesFilled: counts.AllPopulated(),
			NeedsSync:       empty && !snapshot.InProgress,
			QueueLength:     c.App.Engine.QueueLen(),
		},
		Environment: debugEnvironment{
			Diagnostics: c.App.Credentials.Diagnostics(time.Now()),
			Port:        utils.Env("PORT", ""),
		},
		Markets: markets,
		Sample:  sample,
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}
