package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	contractmq "pkagent/contracts/mq"
	"pkagent/internal/checkin"
	"pkagent/internal/model"
	"pkagent/internal/service"
	"pkagent/pkg/logger"
	"pkagent/pkg/util"
)

// CheckInSubmitter is the part of the goal service the handler needs.
type CheckInSubmitter interface {
	SubmitCheckIn(ctx context.Context, subtaskID string, status model.ReportedStatus, reason string) (*model.CheckIn, error)
}

// CheckInReplyHandler turns a user reply from the delivery channel into a check-in.
type CheckInReplyHandler struct {
	svc    CheckInSubmitter
	dedup  service.Deduper
	logger *zap.Logger
}

func NewCheckInReplyHandler(svc CheckInSubmitter, dedup service.Deduper, logger *zap.Logger) *CheckInReplyHandler {
	return &CheckInReplyHandler{svc: svc, dedup: dedup, logger: logger}
}

// Handle 校验失败和已完成的 subtask 进 DLQ，版本冲突等临时错误重新入队
func (h *CheckInReplyHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p contractmq.CheckInReplyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal CheckInReplyPayload", zap.Error(err))
		return err
	}
	status, err := model.ParseReportedStatus(p.Status)
	if err != nil {
		return util.Permanent(err)
	}
	if p.SubtaskID == "" {
		return util.Permanent(fmt.Errorf("reply without subtask_id"))
	}

	var key string
	if p.ReplyID != "" && h.dedup != nil {
		key = util.DedupKey("checkin_reply", p.ReplyID)
		if !h.dedup.AcquireOnce(ctx, key) {
			log.Info("Duplicate check-in reply skipped", zap.String("reply_id", p.ReplyID))
			return nil
		}
	}

	log.Info("Handling checkin.reply",
		zap.String("subtask_id", p.SubtaskID),
		zap.String("status", string(status)),
	)
	_, err = h.svc.SubmitCheckIn(ctx, p.SubtaskID, status, p.Reason)
	if err == nil {
		return nil
	}
	if key != "" {
		h.dedup.Release(ctx, key)
	}
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, checkin.ErrSubtaskCompleted):
		return util.Permanent(err)
	}
	return err
}
