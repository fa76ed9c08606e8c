// Package http 金库 HTTP 接口
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/application"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// HeaderCaller 调用者地址。鉴权由网关完成，这里只做格式校验。
const HeaderCaller = "X-Caller-Address"

var errBadCaller = errors.New("missing or invalid " + HeaderCaller + " header")

// VaultHandler HTTP 处理器
type VaultHandler struct {
	svc    *application.VaultService
	logger *slog.Logger
}

// NewVaultHandler 创建 HTTP 处理器
func NewVaultHandler(svc *application.VaultService, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{svc: svc, logger: logger.With("module", "vault_http")}
}

// RegisterRoutes 注册路由
func (h *VaultHandler) RegisterRoutes(r *gin.RouterGroup) {
	v := r.Group("/vault")
	{
		v.POST("/strikes", h.SetStrikes)
		v.POST("/bootstrap", h.Bootstrap)
		v.POST("/expire", h.ExpireEpoch)
		v.POST("/deposits", h.Deposit)
		v.POST("/deposits/batch", h.DepositMultiple)
		v.POST("/purchases", h.Purchase)
		v.POST("/exercises", h.Exercise)
		v.POST("/withdrawals", h.Withdraw)
		v.POST("/compound", h.Compound)
		v.POST("/options/transfer", h.TransferOptions)
		v.POST("/reserve/approve", h.Approve)

		v.GET("/info", h.GetInfo)
		v.GET("/epochs/:id", h.GetEpoch)
		v.GET("/epochs/:id/positions/:user", h.GetPositions)
		v.GET("/epochs/:id/options/:index", h.GetOptionToken)
		v.GET("/price", h.GetPrice)
		v.GET("/expiry", h.GetExpiry)
		v.GET("/reserve/:address", h.GetReserveAccount)
	}
}

// SetStrikesRequest 行权价以十进制字符串给出，"0" 为占位
type SetStrikesRequest struct {
	Strikes []string `json:"strikes" binding:"required"`
}

type DepositRequest struct {
	StrikeIndex *int   `json:"strike_index" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

type DepositMultipleRequest struct {
	StrikeIndexes []int    `json:"strike_indexes" binding:"required"`
	Amounts       []string `json:"amounts" binding:"required"`
}

type PurchaseRequest struct {
	StrikeIndex *int   `json:"strike_index" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// ExerciseRequest beneficiary 为空时收益归调用者
type ExerciseRequest struct {
	Epoch       uint64 `json:"epoch" binding:"required"`
	StrikeIndex *int   `json:"strike_index" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Beneficiary string `json:"beneficiary"`
}

type WithdrawRequest struct {
	Epoch       uint64 `json:"epoch" binding:"required"`
	StrikeIndex *int   `json:"strike_index" binding:"required"`
}

type TransferOptionsRequest struct {
	Epoch       uint64 `json:"epoch" binding:"required"`
	StrikeIndex *int   `json:"strike_index" binding:"required"`
	To          string `json:"to" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// ApproveRequest amount 为 "0" 时撤销授权
type ApproveRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// SetStrikes 配置下一个 epoch 的行权价
func (h *VaultHandler) SetStrikes(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req SetStrikesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	strikes, err := parseAmounts(req.Strikes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strike"})
		return
	}
	res, err := h.svc.SetStrikes(c.Request.Context(), application.SetStrikesCommand{Caller: caller, Strikes: strikes})
	h.respond(c, "set_strikes", res, err)
}

// Bootstrap 启动下一个 epoch
func (h *VaultHandler) Bootstrap(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	res, err := h.svc.Bootstrap(c.Request.Context(), application.OwnerCommand{Caller: caller})
	h.respond(c, "bootstrap", res, err)
}

// ExpireEpoch 将当前 epoch 标记为过期
func (h *VaultHandler) ExpireEpoch(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	res, err := h.svc.ExpireEpoch(c.Request.Context(), application.OwnerCommand{Caller: caller})
	h.respond(c, "expire_epoch", res, err)
}

func (h *VaultHandler) Deposit(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.Deposit(c.Request.Context(), application.DepositCommand{
		Caller: caller, StrikeIndex: *req.StrikeIndex, Amount: amount,
	})
	h.respond(c, "deposit", res, err)
}

func (h *VaultHandler) DepositMultiple(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req DepositMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.DepositMultiple(c.Request.Context(), application.DepositMultipleCommand{
		Caller: caller, StrikeIndexes: req.StrikeIndexes, Amounts: amounts,
	})
	h.respond(c, "deposit_multiple", res, err)
}

func (h *VaultHandler) Purchase(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.Purchase(c.Request.Context(), application.PurchaseCommand{
		Caller: caller, StrikeIndex: *req.StrikeIndex, Amount: amount,
	})
	h.respond(c, "purchase", res, err)
}

func (h *VaultHandler) Exercise(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req ExerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	var beneficiary common.Address
	if req.Beneficiary != "" {
		if !common.IsHexAddress(req.Beneficiary) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid beneficiary"})
			return
		}
		beneficiary = common.HexToAddress(req.Beneficiary)
	}
	res, err := h.svc.Exercise(c.Request.Context(), application.ExerciseCommand{
		Caller:      caller,
		Epoch:       req.Epoch,
		StrikeIndex: *req.StrikeIndex,
		Amount:      amount,
		Beneficiary: beneficiary,
	})
	h.respond(c, "exercise", res, err)
}

func (h *VaultHandler) Withdraw(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.WithdrawForStrike(c.Request.Context(), application.WithdrawCommand{
		Caller: caller, Epoch: req.Epoch, StrikeIndex: *req.StrikeIndex,
	})
	h.respond(c, "withdraw", res, err)
}

// Compound 任何人均可触发
func (h *VaultHandler) Compound(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	res, err := h.svc.Compound(c.Request.Context(), application.CompoundCommand{Caller: caller})
	h.respond(c, "compound", res, err)
}

func (h *VaultHandler) TransferOptions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req TransferOptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.To) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient address"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.TransferOptions(c.Request.Context(), application.TransferOptionsCommand{
		Caller:      caller,
		Epoch:       req.Epoch,
		StrikeIndex: *req.StrikeIndex,
		To:          common.HexToAddress(req.To),
		Amount:      amount,
	})
	h.respond(c, "transfer_options", res, err)
}

// Approve 授权金库转出调用者的储备资产
func (h *VaultHandler) Approve(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	res, err := h.svc.Approve(c.Request.Context(), application.ApproveCommand{Caller: caller, Amount: amount})
	h.respond(c, "approve", res, err)
}

// GetInfo 金库概览
func (h *VaultHandler) GetInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetVaultInfo(c.Request.Context()))
}

// GetEpoch epoch 详情
func (h *VaultHandler) GetEpoch(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid epoch id"})
		return
	}
	dto, err := h.svc.GetEpoch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get_epoch", err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// GetPositions 用户在某 epoch 的头寸
func (h *VaultHandler) GetPositions(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid epoch id"})
		return
	}
	user := c.Param("user")
	if !common.IsHexAddress(user) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": h.svc.GetPositions(c.Request.Context(), id, common.HexToAddress(user))})
}

// GetOptionToken 期权代币信息，holder 查询参数可选
func (h *VaultHandler) GetOptionToken(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid epoch id"})
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strike index"})
		return
	}
	var holder common.Address
	if raw := c.Query("holder"); raw != "" {
		if !common.IsHexAddress(raw) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid holder address"})
			return
		}
		holder = common.HexToAddress(raw)
	}
	dto, err := h.svc.GetOptionToken(c.Request.Context(), id, index, holder)
	if err != nil {
		h.fail(c, "get_option_token", err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// GetPrice 储备资产 USD 价格
func (h *VaultHandler) GetPrice(c *gin.Context) {
	price, err := h.svc.GetUSDPrice(c.Request.Context())
	if err != nil {
		h.fail(c, "get_price", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price})
}

// GetExpiry 计算 ts (unix 秒，缺省为当前时间) 对应的月度到期时间
func (h *VaultHandler) GetExpiry(c *gin.Context) {
	ts := time.Now().UTC()
	if raw := c.Query("ts"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ts"})
			return
		}
		ts = time.Unix(sec, 0).UTC()
	}
	expiry := application.MonthlyExpiry(ts)
	c.JSON(http.StatusOK, gin.H{"expiry": expiry, "expiry_unix": expiry.Unix()})
}

// GetReserveAccount 储备资产余额与对金库的授权额度
func (h *VaultHandler) GetReserveAccount(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	dto, err := h.svc.GetReserveAccount(c.Request.Context(), common.HexToAddress(raw))
	if err != nil {
		h.fail(c, "get_reserve_account", err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *VaultHandler) caller(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(HeaderCaller)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errBadCaller.Error()})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (h *VaultHandler) respond(c *gin.Context, op string, res *application.CommandResult, err error) {
	if err != nil {
		h.fail(c, op, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *VaultHandler) fail(c *gin.Context, op string, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "vault request failed", "op", op, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": domain.ErrorKind(err)})
}

// StatusOf 领域错误到 HTTP 状态码的映射
func StatusOf(err error) int {
	if errors.Is(err, application.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.ErrorKind(err) {
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_state", "too_early", "already_expired":
		return http.StatusConflict
	case "price_unavailable":
		return http.StatusServiceUnavailable
	case "internal":
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func parseAmounts(raw []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
