package views

// DepositRequest is posted by the deposit-detection collaborator when a transfer is first seen on-chain.
type DepositRequest struct {
	ClientID   *int64 `json:"clientId" binding:"required,min=0"`
	CoinSymbol string `json:"coinSymbol" binding:"required,max=16"`
	Amount     string `json:"amount" binding:"required,max=80"`
	TxHash     string `json:"txHash" binding:"required,max=128"`
}
