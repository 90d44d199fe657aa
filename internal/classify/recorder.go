package classify

import (
	"context"

	"herald/internal/models"

	"github.com/sirupsen/logrus"
)

// SuppressionStore is the slice of the database the recorder writes to.
type SuppressionStore interface {
	AddSuppression(ctx context.Context, campaignID, recipientKey, source, reason string) error
}

// Recorder routes classified inbound replies into the suppression ledger.
// Opt-out intents create a global do-not-contact entry; everything else is
// not the ledger's concern.
type Recorder struct {
	classifier Classifier
	store      SuppressionStore
	logger     *logrus.Logger
}

func NewRecorder(classifier Classifier, store SuppressionStore, logger *logrus.Logger) *Recorder {
	return &Recorder{classifier: classifier, store: store, logger: logger}
}

// HandleReply classifies an inbound reply and records the intent.
func (r *Recorder) HandleReply(ctx context.Context, reply models.InboundReply) (models.Intent, error) {
	intent, err := r.classifier.Classify(ctx, reply.Text)
	if err != nil {
		return models.IntentUnknown, err
	}
	if err := r.RecordIntent(ctx, reply.RecipientKey, intent); err != nil {
		return intent, err
	}
	return intent, nil
}

// RecordIntent persists an opt-out as a global suppression entry.
func (r *Recorder) RecordIntent(ctx context.Context, recipientKey string, intent models.Intent) error {
	if intent != models.IntentOptOut {
		return nil
	}

	r.logger.WithField("recipient", recipientKey).Info("Recording opt-out suppression")
	return r.store.AddSuppression(ctx, "", recipientKey,
		models.SuppressionSourceIntent, string(models.IntentOptOut))
}
