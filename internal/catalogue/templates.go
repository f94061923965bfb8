package catalogue

import "satcontracts/pkg/models"

// escrowEventsABI 四类托管合约共享同一组事件签名，跟踪器按此解码日志
const escrowEventsABI = `[
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"}],"name":"PartySigned","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Released","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Refunded","type":"event"}
]`

// templates 静态模板目录，索引即为对外的模板ID
var templates = []models.EscrowTemplate{
	{
		Index:       0,
		Name:        "EthEscrow",
		Category:    models.CategoryETH,
		Description: "买卖双方加仲裁人的三方ETH托管，买方存入ETH，双方签字后放款",
		Source: `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

contract EthEscrow {
    address public buyer;
    address public seller;
    address public arbiter;
    uint256 public amount;
    bool public buyerSigned;
    bool public sellerSigned;
    bool public settled;

    event Deposited(address indexed party, uint256 amount);
    event PartySigned(address indexed party);
    event Released(address indexed to, uint256 amount);
    event Refunded(address indexed to, uint256 amount);

    constructor(address _seller, address _arbiter) {
        buyer = msg.sender;
        seller = _seller;
        arbiter = _arbiter;
    }

    function deposit() external payable {
        require(msg.sender == buyer, "only buyer");
        require(msg.value > 0, "no value");
        amount += msg.value;
        emit Deposited(msg.sender, msg.value);
    }

    function sign() external {
        require(msg.sender == buyer || msg.sender == seller, "not a party");
        if (msg.sender == buyer) buyerSigned = true;
        else sellerSigned = true;
        emit PartySigned(msg.sender);
    }

    function release() external {
        require(!settled, "settled");
        require((buyerSigned && sellerSigned) || msg.sender == arbiter, "not approved");
        settled = true;
        uint256 value = amount;
        amount = 0;
        payable(seller).transfer(value);
        emit Released(seller, value);
    }

    function refund() external {
        require(!settled, "settled");
        require(msg.sender == arbiter, "only arbiter");
        settled = true;
        uint256 value = amount;
        amount = 0;
        payable(buyer).transfer(value);
        emit Refunded(buyer, value);
    }
}`,
		ABIJSON: `[
  {"inputs":[{"internalType":"address","name":"_seller","type":"address"},{"internalType":"address","name":"_arbiter","type":"address"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"}],"name":"PartySigned","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Released","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Refunded","type":"event"},
  {"inputs":[],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[],"name":"sign","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"release","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"refund","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"buyer","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"seller","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"arbiter","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"amount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`,
		Bytecode: "0x608060405234801561001057600080fd5b5060405161089438038061089483398101604081905261002f916100a2565b600080546001600160a01b03199081163317909155600180546001600160a01b0394851690831617905560028054929093169116179055610102565b80516001600160a01b038116811461009d57600080fd5b919050565b600080604083850312156100b557600080fd5b6100be83610086565b91506100cc60208401610086565b90509250929050565b610783806101116000396000f3fe",
	},
	{
		Index:       1,
		Name:        "Erc20Escrow",
		Category:    models.CategoryERC20,
		Description: "以指定ERC20代币结算的三方托管，买方先approve再存入",
		Source: `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

interface IERC20 {
    function transfer(address to, uint256 value) external returns (bool);
    function transferFrom(address from, address to, uint256 value) external returns (bool);
}

contract Erc20Escrow {
    address public buyer;
    address public seller;
    address public arbiter;
    IERC20 public token;
    uint256 public amount;
    bool public buyerSigned;
    bool public sellerSigned;
    bool public settled;

    event Deposited(address indexed party, uint256 amount);
    event PartySigned(address indexed party);
    event Released(address indexed to, uint256 amount);
    event Refunded(address indexed to, uint256 amount);

    constructor(address _seller, address _arbiter, address _token) {
        buyer = msg.sender;
        seller = _seller;
        arbiter = _arbiter;
        token = IERC20(_token);
    }

    function deposit(uint256 value) external {
        require(msg.sender == buyer, "only buyer");
        require(token.transferFrom(msg.sender, address(this), value), "transfer failed");
        amount += value;
        emit Deposited(msg.sender, value);
    }

    function sign() external {
        require(msg.sender == buyer || msg.sender == seller, "not a party");
        if (msg.sender == buyer) buyerSigned = true;
        else sellerSigned = true;
        emit PartySigned(msg.sender);
    }

    function release() external {
        require(!settled, "settled");
        require((buyerSigned && sellerSigned) || msg.sender == arbiter, "not approved");
        settled = true;
        uint256 value = amount;
        amount = 0;
        require(token.transfer(seller, value), "transfer failed");
        emit Released(seller, value);
    }

    function refund() external {
        require(!settled, "settled");
        require(msg.sender == arbiter, "only arbiter");
        settled = true;
        uint256 value = amount;
        amount = 0;
        require(token.transfer(buyer, value), "transfer failed");
        emit Refunded(buyer, value);
    }
}`,
		ABIJSON: `[
  {"inputs":[{"internalType":"address","name":"_seller","type":"address"},{"internalType":"address","name":"_arbiter","type":"address"},{"internalType":"address","name":"_token","type":"address"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"}],"name":"PartySigned","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Released","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Refunded","type":"event"},
  {"inputs":[{"internalType":"uint256","name":"value","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"sign","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"release","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"refund","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"token","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"amount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`,
		Bytecode: "0x608060405234801561001057600080fd5b50604051610a72380380610a7283398101604081905261002f916100c4565b600080546001600160a01b03199081163317909155600180546001600160a01b0395861690831617905560028054938516938216939093179092556003805491909316911617905561013e565b80516001600160a01b03811681146100bf57600080fd5b919050565b6000806000606084860312156100d957600080fd5b6100e2846100a8565b92506100f0602085016100a8565b91506100fe604085016100a8565b90509250925092565b610925806101",
	},
	{
		Index:       2,
		Name:        "NftEscrow",
		Category:    models.CategoryNFT,
		Description: "NFT换ETH的托管：卖方托管ERC721，买方存入ETH，双方签字后互换",
		Source: `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

interface IERC721 {
    function transferFrom(address from, address to, uint256 tokenId) external;
}

contract NftEscrow {
    address public buyer;
    address public seller;
    address public arbiter;
    IERC721 public nft;
    uint256 public tokenId;
    uint256 public amount;
    bool public nftDeposited;
    bool public buyerSigned;
    bool public sellerSigned;
    bool public settled;

    event Deposited(address indexed party, uint256 amount);
    event PartySigned(address indexed party);
    event Released(address indexed to, uint256 amount);
    event Refunded(address indexed to, uint256 amount);

    constructor(address _seller, address _arbiter, address _nft, uint256 _tokenId) {
        buyer = msg.sender;
        seller = _seller;
        arbiter = _arbiter;
        nft = IERC721(_nft);
        tokenId = _tokenId;
    }

    function depositEth() external payable {
        require(msg.sender == buyer, "only buyer");
        require(msg.value > 0, "no value");
        amount += msg.value;
        emit Deposited(msg.sender, msg.value);
    }

    function depositNft() external {
        require(msg.sender == seller, "only seller");
        nft.transferFrom(msg.sender, address(this), tokenId);
        nftDeposited = true;
        emit Deposited(msg.sender, tokenId);
    }

    function sign() external {
        require(msg.sender == buyer || msg.sender == seller, "not a party");
        if (msg.sender == buyer) buyerSigned = true;
        else sellerSigned = true;
        emit PartySigned(msg.sender);
    }

    function release() external {
        require(!settled, "settled");
        require(nftDeposited, "nft missing");
        require((buyerSigned && sellerSigned) || msg.sender == arbiter, "not approved");
        settled = true;
        uint256 value = amount;
        amount = 0;
        nft.transferFrom(address(this), buyer, tokenId);
        payable(seller).transfer(value);
        emit Released(seller, value);
    }

    function refund() external {
        require(!settled, "settled");
        require(msg.sender == arbiter, "only arbiter");
        settled = true;
        uint256 value = amount;
        amount = 0;
        if (nftDeposited) {
            nft.transferFrom(address(this), seller, tokenId);
        }
        payable(buyer).transfer(value);
        emit Refunded(buyer, value);
    }
}`,
		ABIJSON: `[
  {"inputs":[{"internalType":"address","name":"_seller","type":"address"},{"internalType":"address","name":"_arbiter","type":"address"},{"internalType":"address","name":"_nft","type":"address"},{"internalType":"uint256","name":"_tokenId","type":"uint256"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"}],"name":"PartySigned","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Released","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Refunded","type":"event"},
  {"inputs":[],"name":"depositEth","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[],"name":"depositNft","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"sign","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"release","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"refund","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"nft","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tokenId","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`,
		Bytecode: "0x608060405234801561001057600080fd5b50604051610c3a38038061c3a83398101604081905261002f916100d6565b600080546001600160a01b03199081163317909155600180546001600160a01b039687169083161790556002805495861695821695909517909455600380549390941692169190911790915560045561015a565b80516001600160a01b03811681146100d157600080fd5b919050565b600080600080608085870312156100ec57600080fd5b6100f5856100ba565b9350610103602086016100ba565b9250610111604086016100ba565b6060959095015193969295505050565b610ad1806101",
	},
	{
		Index:       3,
		Name:        "CbtcEscrow",
		Category:    models.CategoryCBTC,
		Description: "以打包BTC（cBTC）结算的三方托管，流程与ERC20托管一致",
		Source: `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

interface IERC20 {
    function transfer(address to, uint256 value) external returns (bool);
    function transferFrom(address from, address to, uint256 value) external returns (bool);
}

contract CbtcEscrow {
    address public buyer;
    address public seller;
    address public arbiter;
    IERC20 public cbtc;
    uint256 public amount;
    bool public buyerSigned;
    bool public sellerSigned;
    bool public settled;

    event Deposited(address indexed party, uint256 amount);
    event PartySigned(address indexed party);
    event Released(address indexed to, uint256 amount);
    event Refunded(address indexed to, uint256 amount);

    constructor(address _seller, address _arbiter, address _cbtc) {
        buyer = msg.sender;
        seller = _seller;
        arbiter = _arbiter;
        cbtc = IERC20(_cbtc);
    }

    function deposit(uint256 value) external {
        require(msg.sender == buyer, "only buyer");
        require(cbtc.transferFrom(msg.sender, address(this), value), "transfer failed");
        amount += value;
        emit Deposited(msg.sender, value);
    }

    function sign() external {
        require(msg.sender == buyer || msg.sender == seller, "not a party");
        if (msg.sender == buyer) buyerSigned = true;
        else sellerSigned = true;
        emit PartySigned(msg.sender);
    }

    function release() external {
        require(!settled, "settled");
        require((buyerSigned && sellerSigned) || msg.sender == arbiter, "not approved");
        settled = true;
        uint256 value = amount;
        amount = 0;
        require(cbtc.transfer(seller, value), "transfer failed");
        emit Released(seller, value);
    }

    function refund() external {
        require(!settled, "settled");
        require(msg.sender == arbiter, "only arbiter");
        settled = true;
        uint256 value = amount;
        amount = 0;
        require(cbtc.transfer(buyer, value), "transfer failed");
        emit Refunded(buyer, value);
    }
}`,
		ABIJSON: `[
  {"inputs":[{"internalType":"address","name":"_seller","type":"address"},{"internalType":"address","name":"_arbiter","type":"address"},{"internalType":"address","name":"_cbtc","type":"address"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"party","type":"address"}],"name":"PartySigned","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Released","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"to","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],"name":"Refunded","type":"event"},
  {"inputs":[{"internalType":"uint256","name":"value","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"sign","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"release","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"refund","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"cbtc","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"amount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`,
		Bytecode: "0x608060405234801561001057600080fd5b50604051610a7238038061a7283398101604081905261002f916100c4565b600080546001600160a01b0319908116331790915560018054600160a01b0395861690831617905560028054938516938216939093179092556003805491909316911617905561013e565b80516001600160a01b03811681146100bf57600080fd5b919050565b6000806000606084860312156100d957600080fd5b6100e2846100a8565b92506100f0602085016100a8565b91506100fe604085016100a8565b90509250925092565b610925806101",
	},
}
