// Package contracts holds the ABIs of the on-chain contracts the service
// talks to.
package contracts

// FundMeABI covers the FundMe escrow contract.
const FundMeABI = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[
    {"name":"_lockTime","type":"uint256"},
    {"name":"dataFeedAddr","type":"address"}]},
  {"type":"function","name":"fund","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"getFund","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"transferOwner","stateMutability":"nonpayable",
    "inputs":[{"name":"newOwner","type":"address"}],"outputs":[]},
  {"type":"function","name":"setErc20Addr","stateMutability":"nonpayable",
    "inputs":[{"name":"_erc20Addr","type":"address"}],"outputs":[]},
  {"type":"function","name":"setFunderToAmount","stateMutability":"nonpayable",
    "inputs":[{"name":"funder","type":"address"},{"name":"amountToUpdate","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"erc20Addr","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"isFundSuccess","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"lockTime","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"fundersToAmount","stateMutability":"view",
    "inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getChainlinkDataFeedLatestAnswer","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"int256"}]},
  {"type":"function","name":"debugConvertUsd","stateMutability":"view",
    "inputs":[{"name":"ethAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"FundWithdrawn","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// AggregatorV3ABI is the read side of a Chainlink price feed.
const AggregatorV3ABI = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"description","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
    "outputs":[
      {"name":"roundId","type":"uint80"},
      {"name":"answer","type":"int256"},
      {"name":"startedAt","type":"uint256"},
      {"name":"updatedAt","type":"uint256"},
      {"name":"answeredInRound","type":"uint80"}]}
]`
