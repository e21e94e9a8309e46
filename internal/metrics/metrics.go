package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 180, 300},
		},
		[]string{"method", "path"},
	)

	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
)

// 智能体调度指标
var (
	// AgentDispatchTotal 按智能体类型与结果统计调用次数
	AgentDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_agent_dispatch_total",
			Help: "外部智能体调用总数",
		},
		[]string{"endpoint", "outcome"}, // outcome: success, not_found, upstream, timeout
	)

	AgentDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_agent_dispatch_duration_seconds",
			Help:    "外部智能体调用耗时分布",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
		[]string{"endpoint"},
	)

	// ContextSummaries 超长上下文处理结果：summarized, truncated
	ContextSummaries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_context_shrink_total",
			Help: "超长上下文压缩次数",
		},
		[]string{"result"},
	)
)

// 后台与业务流程指标
var (
	HighlightJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_highlight_jobs_total",
			Help: "高亮任务总数",
		},
		[]string{"status"}, // completed, completed_no_highlights, failed
	)

	BackgroundJobFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_background_job_failures_total",
			Help: "后台任务失败次数",
		},
		[]string{"task_type"},
	)

	CampaignTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_campaign_transitions_total",
			Help: "活动状态迁移次数",
		},
		[]string{"to"},
	)

	ApprovalDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_approval_decisions_total",
			Help: "审批决定次数",
		},
		[]string{"subject", "decision"},
	)

	PDFExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_pdf_exports_total",
			Help: "PDF 导出次数",
		},
		[]string{"status"},
	)

	// DBSlowQueries 超过慢查询阈值的 SQL
	DBSlowQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claire_db_slow_queries_total",
			Help: "慢查询次数",
		},
	)

	PDFPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claire_pdf_pages",
			Help:    "导出 PDF 页数分布",
			Buckets: []float64{1, 2, 5, 10, 20, 40},
		},
	)
)
