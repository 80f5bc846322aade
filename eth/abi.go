package eth

// WalletABI covers the contract surface the check-in and booking flows
// touch: the check-in mint call and its event, the ERC20 approvals used
// by mixed payments, and the tour purchase call.
const WalletABI = `[
  {"inputs":[{"internalType":"string","name":"locationId","type":"string"}],"name":"checkIn","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"account","type":"address"},{"indexed":false,"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"CheckInMinted","type":"event"},
  {"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"tourId","type":"string"},{"internalType":"uint256","name":"rewardAmount","type":"uint256"},{"internalType":"uint256","name":"stableAmount","type":"uint256"}],"name":"purchase","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"buyer","type":"address"},{"indexed":false,"internalType":"string","name":"tourId","type":"string"}],"name":"TourPurchased","type":"event"}
]`
