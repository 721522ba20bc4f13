package daraja

// TransactionTypePayBill is the only push type this service issues.
const TransactionTypePayBill = "CustomerPayBillOnline"

const (
	// ResponseCodeAccepted means the gateway accepted the push request;
	// the payment outcome still arrives asynchronously.
	ResponseCodeAccepted = "0"

	// ErrorCodeSystemBusy is the gateway's retryable "system busy" code.
	ErrorCodeSystemBusy = "500.001.1001"

	// RateLimitMarker appears in the error description when the gateway
	// throttles the caller; the HTTP status code does not signal it.
	RateLimitMarker = "Spike arrest"
)

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// PushResult is the gateway's answer to an initiate call. An accepted push
// only means the customer was prompted; the payment may still be declined.
type PushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (r *PushResult) Accepted() bool {
	return r.ResponseCode == ResponseCodeAccepted
}

// QueryResult is the gateway's answer to a status query. ResultCode "0"
// means the payment succeeded; any other code is a terminal failure.
type QueryResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

func (r *QueryResult) Succeeded() bool {
	return r.ResultCode == "0"
}

type gatewayErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}
