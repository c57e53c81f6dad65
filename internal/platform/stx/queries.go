package stx

// GraphQL documents sent to the exchange. Field selections match what the
// bot and the CLI read back.
const (
	loginMutation = `mutation login($credentials: Credentials!) {
  login(credentials: $credentials) {
    token
    refreshToken
    userId
    sessionId
    promptTwoFactorAuth
  }
}`

	confirm2FAMutation = `mutation confirm2Fa($code: String!) {
  confirm2Fa(code: $code) {
    token
    refreshToken
    userId
    sessionId
  }
}`

	logoutMutation = `mutation logout {
  logout
}`

	marketInfosQuery = `query marketInfos {
  marketInfos {
    marketId
    title
    shortTitle
    question
    eventType
    status
    eventStatus
    maxPrice
    probability
    price
    position
    bids { price quantity }
    offers { price quantity }
  }
}`

	confirmOrderMutation = `mutation confirmOrder($userOrder: UserOrder!) {
  confirmOrder(userOrder: $userOrder) {
    errors
    order {
      id
      marketId
      orderType
      action
      price
      quantity
      status
      totalValue
      clientOrderId
      insertedAt
    }
  }
}`

	cancelOrderMutation = `mutation cancelOrder($orderId: ID!) {
  cancelOrder(orderId: $orderId) {
    status
  }
}`

	userProfileQuery = `query userProfile {
  userProfile {
    id
    accountId
    username
    firstName
    lastName
    city
    country
  }
}`

	myOrderHistoryQuery = `query myOrderHistory($limit: Int, $offset: Int) {
  myOrderHistory(limit: $limit, offset: $offset) {
    totalCount
    orders {
      id
      marketId
      orderType
      action
      price
      quantity
      status
      totalValue
      clientOrderId
      insertedAt
    }
  }
}`
)
