package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"claireportal/internal/common"
	"claireportal/internal/metrics"
	"claireportal/internal/storage"
	"claireportal/internal/workspace"

	"go.uber.org/zap"
)

// MsgNoStrategy 用户没有可导出的工作区
const MsgNoStrategy = "No strategy found for user"

// Workspaces 工作区读取
type Workspaces interface {
	Latest(ctx context.Context, userID string) (*workspace.ClientWorkspace, error)
}

// Document 导出结果
type Document struct {
	FileName string
	Content  []byte
	Pages    int
	Location string
}

// Service 战略 PDF 导出
type Service struct {
	workspaces Workspaces
	renderer   *Renderer
	uploader   storage.Uploader
	logger     *zap.Logger
	now        func() time.Time
}

// NewService uploader 为 nil 时不归档
func NewService(workspaces Workspaces, renderer *Renderer, uploader storage.Uploader, logger *zap.Logger) *Service {
	if renderer == nil {
		renderer = NewRenderer("")
	}
	if uploader == nil {
		uploader = storage.NopUploader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		workspaces: workspaces,
		renderer:   renderer,
		uploader:   uploader,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Export 渲染用户最新工作区的战略 PDF；归档失败只记录告警
func (s *Service) Export(ctx context.Context, userID string) (*Document, error) {
	if userID == "" {
		return nil, common.ErrValidation("User ID is required")
	}
	ws, err := s.workspaces.Latest(ctx, userID)
	if errors.Is(err, workspace.ErrNoWorkspace) {
		return nil, common.ErrNotFound(MsgNoStrategy)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, pages, err := s.renderer.Render(BundleFromWorkspace(ws))
	if err != nil {
		metrics.PDFExportsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("生成战略 PDF 失败", zap.String("user_id", userID), zap.Error(err))
		return nil, common.NewBusinessError(common.CodeInternalError, "Failed to generate PDF").WithDetails(err.Error())
	}
	metrics.PDFExportsTotal.WithLabelValues("success").Inc()
	metrics.PDFPages.Observe(float64(pages))

	doc := &Document{
		FileName: FileName(ws.CompanyName, s.now()),
		Content:  content,
		Pages:    pages,
	}
	key := fmt.Sprintf("strategies/%s/%s", userID, doc.FileName)
	if loc, err := s.uploader.Upload(ctx, key, "application/pdf", bytes.NewReader(content)); err != nil {
		s.logger.Warn("战略 PDF 归档失败", zap.String("user_id", userID), zap.Error(err))
	} else {
		doc.Location = loc
	}

	s.logger.Info("战略 PDF 已生成",
		zap.String("user_id", userID),
		zap.String("file_name", doc.FileName),
		zap.Int("pages", pages),
		zap.Int("bytes", len(content)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}

var unsafeName = regexp.MustCompile(`[^a-z0-9]`)

// FileName Claire_Strategy_<公司名>_<日期>.pdf，公司名只保留小写字母数字
func FileName(company string, at time.Time) string {
	return fmt.Sprintf("Claire_Strategy_%s_%s.pdf",
		unsafeName.ReplaceAllString(strings.ToLower(company), "_"),
		at.Format("2006-01-02"),
	)
}
